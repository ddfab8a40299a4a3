package model

import "time"

// User is read-only here. Rows are owned by the account subsystem.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Role         Role      `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	FirstName    string    `db:"first_name" json:"firstName"`
	LastName     string    `db:"last_name" json:"lastName"`
	APITokenHash *string   `db:"api_token_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

func (a Actor) IsAdmin() bool   { return a.Role == RoleAdmin }
func (a Actor) IsTrainer() bool { return a.Role == RoleTrainer }
func (a Actor) IsClient() bool  { return a.Role == RoleClient }
