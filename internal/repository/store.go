package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/swanstudios/scheduling-server-go/internal/database"
	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/model"
)

var (
	// ErrDuplicateRequestKey is returned when a non-cancelled session
	// already holds the request key.
	ErrDuplicateRequestKey = errors.New("request key already used")
	// ErrActiveAssignmentExists is returned when a client already has an
	// active assignment.
	ErrActiveAssignmentExists = errors.New("client already has an active assignment")
)

// Store is the transactional boundary for session and assignment data.
// Writes that must not race go through InTx; reads outside InTx may be
// served from any committed state.
type Store interface {
	Sessions() SessionRepository
	Assignments() AssignmentRepository
	Users() UserRepository
	// InTx runs fn in a transaction that holds an exclusive lock on every
	// key until commit or rollback. Reads made through tx see current
	// committed state plus the transaction's own writes.
	InTx(ctx context.Context, lockKeys []string, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

func TrainerLockKey(trainerID int64) string {
	return fmt.Sprintf("trainer:%d", trainerID)
}

func ClientLockKey(clientID int64) string {
	return fmt.Sprintf("client:%d", clientID)
}

type PostgresStore struct {
	db          *database.DB
	sessions    SessionRepository
	assignments AssignmentRepository
	users       UserRepository
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		sessions:    NewSessionRepository(db.DB),
		assignments: NewAssignmentRepository(db.DB),
		users:       NewUserRepository(db.DB),
	}
}

func (s *PostgresStore) Sessions() SessionRepository       { return &pgSessionRepo{s.sessions} }
func (s *PostgresStore) Assignments() AssignmentRepository { return &pgAssignmentRepo{s.assignments} }
func (s *PostgresStore) Users() UserRepository             { return s.users }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs at READ COMMITTED. Advisory locks on the keys serialize every
// writer touching the same trainer or client, and each statement after the
// lock sees rows committed by the previous holder.
func (s *PostgresStore) InTx(ctx context.Context, lockKeys []string, fn func(tx Store) error) error {
	err := s.db.WithTxOptions(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sqlx.Tx) error {
		if err := database.LockKeys(ctx, tx, lockKeys); err != nil {
			return err
		}
		return fn(&pgTxStore{
			tx:          tx,
			sessions:    &pgSessionRepo{s.sessions.WithTx(tx)},
			assignments: &pgAssignmentRepo{s.assignments.WithTx(tx)},
			users:       s.users.WithTx(tx),
		})
	})
	return classify(err)
}

type pgTxStore struct {
	tx          *sqlx.Tx
	sessions    SessionRepository
	assignments AssignmentRepository
	users       UserRepository
}

func (s *pgTxStore) Sessions() SessionRepository       { return s.sessions }
func (s *pgTxStore) Assignments() AssignmentRepository { return s.assignments }
func (s *pgTxStore) Users() UserRepository             { return s.users }

func (s *pgTxStore) Ping(ctx context.Context) error {
	_, err := s.tx.ExecContext(ctx, `SELECT 1`)
	return err
}

// InTx on an open transaction takes the extra locks and reuses it.
// Advisory locks are reentrant within a backend.
func (s *pgTxStore) InTx(ctx context.Context, lockKeys []string, fn func(tx Store) error) error {
	if err := database.LockKeys(ctx, s.tx, lockKeys); err != nil {
		return classify(err)
	}
	return fn(s)
}

// classify turns retryable postgres failures into TRANSIENT_STORE so the
// service layer can retry without knowing about the driver.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if database.IsTransient(err) {
		return apperrors.TransientStore(err)
	}
	return err
}

// pgSessionRepo maps unique violations to repository sentinels.
type pgSessionRepo struct {
	SessionRepository
}

func (r *pgSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	session, err := r.SessionRepository.Create(ctx, params)
	if database.IsUniqueViolation(err, "idx_sessions_request_key") {
		return nil, ErrDuplicateRequestKey
	}
	return session, classify(err)
}

type pgAssignmentRepo struct {
	AssignmentRepository
}

func (r *pgAssignmentRepo) Create(ctx context.Context, params model.CreateAssignmentParams) (*model.Assignment, error) {
	a, err := r.AssignmentRepository.Create(ctx, params)
	if database.IsUniqueViolation(err, "idx_assignments_active_client") {
		return nil, ErrActiveAssignmentExists
	}
	return a, classify(err)
}
