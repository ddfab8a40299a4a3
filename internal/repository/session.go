package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/swanstudios/scheduling-server-go/internal/database"
	"github.com/swanstudios/scheduling-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Session, error)
	FindByRequestKey(ctx context.Context, key string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	UpdateStatus(ctx context.Context, id int64, change model.StatusChange) (*model.Session, error)
	Reschedule(ctx context.Context, id int64, window model.TimeWindow) (*model.Session, error)
	Reassign(ctx context.Context, id int64, trainerID int64) error
	UpdateLocation(ctx context.Context, id int64, location string) error
	// FindBlockingForTrainer returns blocking sessions of the trainer that
	// intersect window.
	FindBlockingForTrainer(ctx context.Context, trainerID int64, window model.TimeWindow) ([]model.Session, error)
	FindBlockingForClient(ctx context.Context, clientID int64, window model.TimeWindow) ([]model.Session, error)
	List(ctx context.Context, q model.SessionQuery) ([]model.Session, error)
	// ListCompletedForUser returns completed sessions where the user is
	// the client (or the trainer, for trainer accounts), newest first.
	ListCompletedForUser(ctx context.Context, userID int64, role model.Role) ([]model.Session, error)
	FindExpiredRequests(ctx context.Context, before time.Time) ([]model.Session, error)
	CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error)
	CountOpenForTrainer(ctx context.Context, trainerID int64) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func blockingStatusArray() pq.StringArray {
	out := make(pq.StringArray, len(model.BlockingStatuses))
	for i, s := range model.BlockingStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *sessionRepo) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByRequestKey(ctx context.Context, key string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE request_key = $1
		AND status <> 'cancelled'
	`, key)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (trainer_id, client_id, start_time, end_time, status, location, created_by, request_key, notes, recurrence_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`, params.TrainerID, params.ClientID, params.StartTime, params.EndTime, params.Status,
		params.Location, params.CreatedBy, params.RequestKey, params.Notes, params.RecurrenceGroup)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id int64, change model.StatusChange) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			status = $2::text,
			client_id = COALESCE($3::bigint, client_id),
			confirmed_at = CASE WHEN $2::text = 'confirmed' THEN $4::timestamptz ELSE confirmed_at END,
			completed_at = CASE WHEN $2::text = 'completed' THEN $4::timestamptz ELSE completed_at END,
			cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $4::timestamptz ELSE cancelled_at END,
			cancelled_by = CASE WHEN $2::text = 'cancelled' THEN $5::bigint ELSE cancelled_by END,
			cancellation_reason = CASE WHEN $2::text = 'cancelled' THEN $6::text ELSE cancellation_reason END,
			calories_burned = COALESCE($7::integer, calories_burned),
			updated_at = $4::timestamptz
		WHERE id = $1
		RETURNING *
	`, id, change.Status, change.ClientID, change.At, change.ActorID, change.Reason, change.CaloriesBurned)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Reschedule(ctx context.Context, id int64, window model.TimeWindow) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			start_time = $2,
			end_time = $3,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, window.Start, window.End)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Reassign(ctx context.Context, id int64, trainerID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			trainer_id = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, trainerID)
	return err
}

func (r *sessionRepo) UpdateLocation(ctx context.Context, id int64, location string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			location = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, location)
	return err
}

func (r *sessionRepo) FindBlockingForTrainer(ctx context.Context, trainerID int64, window model.TimeWindow) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE trainer_id = $1
		AND status = ANY($2)
		AND start_time < $4
		AND end_time > $3
		ORDER BY start_time, id
	`, trainerID, blockingStatusArray(), window.Start, window.End)
	return sessions, err
}

func (r *sessionRepo) FindBlockingForClient(ctx context.Context, clientID int64, window model.TimeWindow) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE client_id = $1
		AND status = ANY($2)
		AND start_time < $4
		AND end_time > $3
		ORDER BY start_time, id
	`, clientID, blockingStatusArray(), window.Start, window.End)
	return sessions, err
}

func (r *sessionRepo) List(ctx context.Context, q model.SessionQuery) ([]model.Session, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if q.TrainerID != nil {
		add("trainer_id = ?", *q.TrainerID)
	}
	switch {
	case q.ClientID != nil && q.OpenForTrainerID != nil:
		args = append(args, *q.ClientID, *q.OpenForTrainerID)
		where = append(where, "(client_id = $"+strconv.Itoa(len(args)-1)+
			" OR (trainer_id = $"+strconv.Itoa(len(args))+" AND status = 'available' AND client_id IS NULL))")
	case q.ClientID != nil:
		add("client_id = ?", *q.ClientID)
	}
	if q.RecurrenceGroup != nil {
		add("recurrence_group = ?", *q.RecurrenceGroup)
	}
	if len(q.Statuses) > 0 {
		statuses := make(pq.StringArray, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY(?)", statuses)
	}
	if !q.From.IsZero() {
		add("end_time > ?", q.From)
	}
	if !q.To.IsZero() {
		add("start_time < ?", q.To)
	}

	query := "SELECT * FROM sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time, id"

	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, query, args...)
	return sessions, err
}

func (r *sessionRepo) ListCompletedForUser(ctx context.Context, userID int64, role model.Role) ([]model.Session, error) {
	column := "client_id"
	if role == model.RoleTrainer {
		column = "trainer_id"
	}
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE `+column+` = $1
		AND status = 'completed'
		ORDER BY start_time DESC, id DESC
	`, userID)
	return sessions, err
}

func (r *sessionRepo) FindExpiredRequests(ctx context.Context, before time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE status = 'requested'
		AND start_time < $1
		ORDER BY start_time, id
	`, before)
	return sessions, err
}

func (r *sessionRepo) CountByStatus(ctx context.Context) (map[model.SessionStatus]int, error) {
	var rows []struct {
		Status model.SessionStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM sessions GROUP BY status
	`); err != nil {
		return nil, err
	}
	out := make(map[model.SessionStatus]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *sessionRepo) CountOpenForTrainer(ctx context.Context, trainerID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions
		WHERE trainer_id = $1
		AND status NOT IN ('completed', 'cancelled')
	`, trainerID)
	return count, err
}
