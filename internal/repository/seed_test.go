package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/util"
)

func TestSeedUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("loads users and hashes tokens", func(t *testing.T) {
		store := NewMemoryStore()
		seed := `[
			{"id": 1, "role": "admin", "firstName": "Morgan", "token": "admin-token"},
			{"id": 12, "role": "client", "active": false}
		]`

		n, err := SeedUsers(store, strings.NewReader(seed))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		admin, err := store.Users().FindByTokenHash(ctx, util.HashToken("admin-token"))
		require.NoError(t, err)
		require.NotNil(t, admin)
		assert.Equal(t, model.RoleAdmin, admin.Role)
		assert.True(t, admin.Active)

		client, err := store.Users().FindByID(ctx, 12)
		require.NoError(t, err)
		require.NotNil(t, client)
		assert.False(t, client.Active)
		assert.Nil(t, client.APITokenHash)
	})

	t.Run("rejects bad entries without loading any", func(t *testing.T) {
		tests := []struct {
			name string
			seed string
		}{
			{"malformed", `{"id": 1}`},
			{"missing id", `[{"role": "admin"}]`},
			{"unknown role", `[{"id": 1, "role": "admin"}, {"id": 2, "role": "owner"}]`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				store := NewMemoryStore()

				_, err := SeedUsers(store, strings.NewReader(tt.seed))
				assert.Error(t, err)

				u, err := store.Users().FindByID(ctx, 1)
				require.NoError(t, err)
				assert.Nil(t, u)
			})
		}
	})
}
