package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/swanstudios/scheduling-server-go/internal/database"
	"github.com/swanstudios/scheduling-server-go/internal/model"
)

type AssignmentRepository interface {
	FindActiveByClient(ctx context.Context, clientID int64) (*model.Assignment, error)
	FindActivePair(ctx context.Context, trainerID, clientID int64) (*model.Assignment, error)
	Create(ctx context.Context, params model.CreateAssignmentParams) (*model.Assignment, error)
	Deactivate(ctx context.Context, id int64, actorID int64, at time.Time) error
	ListByTrainer(ctx context.Context, trainerID int64, activeOnly bool) ([]model.Assignment, error)
	ListByClient(ctx context.Context, clientID int64) ([]model.Assignment, error)
	CountRows(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
	// CountDuplicateActive returns the number of clients holding more than
	// one active assignment. Anything but zero is a data problem.
	CountDuplicateActive(ctx context.Context) (int, error)
	CountUnassignedClients(ctx context.Context) (int, error)
	TrainerWorkload(ctx context.Context) ([]model.TrainerWorkload, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AssignmentRepository
}

type assignmentRepo struct {
	db database.DBTX
}

func NewAssignmentRepository(db *sqlx.DB) AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) WithTx(tx *sqlx.Tx) AssignmentRepository {
	return &assignmentRepo{db: tx}
}

func (r *assignmentRepo) FindActiveByClient(ctx context.Context, clientID int64) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.GetContext(ctx, &a, `
		SELECT * FROM trainer_client_assignments
		WHERE client_id = $1 AND status = 'active'
	`, clientID)
	return HandleNotFound(&a, err)
}

func (r *assignmentRepo) FindActivePair(ctx context.Context, trainerID, clientID int64) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.GetContext(ctx, &a, `
		SELECT * FROM trainer_client_assignments
		WHERE trainer_id = $1 AND client_id = $2 AND status = 'active'
	`, trainerID, clientID)
	return HandleNotFound(&a, err)
}

func (r *assignmentRepo) Create(ctx context.Context, params model.CreateAssignmentParams) (*model.Assignment, error) {
	sessionIDs := pq.Int64Array(params.SessionIDs)
	if sessionIDs == nil {
		sessionIDs = pq.Int64Array{}
	}
	var a model.Assignment
	err := r.db.GetContext(ctx, &a, `
		INSERT INTO trainer_client_assignments (trainer_id, client_id, status, assigned_by, session_ids)
		VALUES ($1, $2, 'active', $3, $4)
		RETURNING *
	`, params.TrainerID, params.ClientID, params.AssignedBy, sessionIDs)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) Deactivate(ctx context.Context, id int64, actorID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trainer_client_assignments SET
			status = 'inactive',
			deactivated_at = $3,
			deactivated_by = $2
		WHERE id = $1 AND status = 'active'
	`, id, actorID, at)
	return err
}

func (r *assignmentRepo) ListByTrainer(ctx context.Context, trainerID int64, activeOnly bool) ([]model.Assignment, error) {
	var out []model.Assignment
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM trainer_client_assignments
		WHERE trainer_id = $1
		AND ($2 = FALSE OR status = 'active')
		ORDER BY assigned_at DESC, id DESC
	`, trainerID, activeOnly)
	return out, err
}

func (r *assignmentRepo) ListByClient(ctx context.Context, clientID int64) ([]model.Assignment, error) {
	var out []model.Assignment
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM trainer_client_assignments
		WHERE client_id = $1
		ORDER BY assigned_at DESC, id DESC
	`, clientID)
	return out, err
}

func (r *assignmentRepo) CountRows(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM trainer_client_assignments`)
	return count, err
}

func (r *assignmentRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM trainer_client_assignments WHERE status = 'active'
	`)
	return count, err
}

func (r *assignmentRepo) CountDuplicateActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM (
			SELECT client_id FROM trainer_client_assignments
			WHERE status = 'active'
			GROUP BY client_id
			HAVING COUNT(*) > 1
		) dup
	`)
	return count, err
}

func (r *assignmentRepo) CountUnassignedClients(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM users u
		WHERE u.role = 'client' AND u.active
		AND NOT EXISTS (
			SELECT 1 FROM trainer_client_assignments a
			WHERE a.client_id = u.id AND a.status = 'active'
		)
	`)
	return count, err
}

func (r *assignmentRepo) TrainerWorkload(ctx context.Context) ([]model.TrainerWorkload, error) {
	var out []model.TrainerWorkload
	err := r.db.SelectContext(ctx, &out, `
		SELECT
			u.id AS trainer_id,
			TRIM(u.first_name || ' ' || u.last_name) AS trainer_name,
			(SELECT COUNT(*) FROM trainer_client_assignments a
				WHERE a.trainer_id = u.id AND a.status = 'active') AS active_clients,
			(SELECT COUNT(*) FROM sessions s
				WHERE s.trainer_id = u.id AND s.status NOT IN ('completed', 'cancelled')) AS assigned_sessions
		FROM users u
		WHERE u.role = 'trainer' AND u.active
		ORDER BY u.id
	`)
	return out, err
}
