package repository

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/util"
)

// SeedUser is one entry of a memory store seed file. Token is the plain
// API token; only its hash is kept.
type SeedUser struct {
	ID        int64      `json:"id"`
	Role      model.Role `json:"role"`
	Active    *bool      `json:"active"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Token     string     `json:"token"`
}

// SeedUsers loads a JSON array of users into the store. Users default to
// active.
func SeedUsers(store *MemoryStore, r io.Reader) (int, error) {
	var users []SeedUser
	if err := json.NewDecoder(r).Decode(&users); err != nil {
		return 0, fmt.Errorf("decode seed users: %w", err)
	}

	for i, u := range users {
		if u.ID <= 0 {
			return 0, fmt.Errorf("seed user %d: id must be positive", i)
		}
		if !u.Role.Valid() {
			return 0, fmt.Errorf("seed user %d: unknown role %q", u.ID, u.Role)
		}
	}

	for _, u := range users {
		user := model.User{
			ID:        u.ID,
			Role:      u.Role,
			Active:    u.Active == nil || *u.Active,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}
		if u.Token != "" {
			hash := util.HashToken(u.Token)
			user.APITokenHash = &hash
		}
		store.PutUser(user)
	}
	return len(users), nil
}
