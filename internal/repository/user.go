package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/swanstudios/scheduling-server-go/internal/database"
	"github.com/swanstudios/scheduling-server-go/internal/model"
)

// UserRepository is read-only. Users are provisioned by the account system.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
	// CountByRole counts active users per role.
	CountByRole(ctx context.Context) (map[model.Role]int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db database.DBTX
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

func (r *userRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&u, err)
}

func (r *userRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT * FROM users
		WHERE api_token_hash = $1 AND active
	`, tokenHash)
	return HandleNotFound(&u, err)
}

func (r *userRepo) CountByRole(ctx context.Context) (map[model.Role]int, error) {
	var rows []struct {
		Role  model.Role `db:"role"`
		Count int        `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT role, COUNT(*) AS count FROM users
		WHERE active
		GROUP BY role
	`); err != nil {
		return nil, err
	}
	counts := make(map[model.Role]int, len(rows))
	for _, row := range rows {
		counts[row.Role] = row.Count
	}
	return counts, nil
}
