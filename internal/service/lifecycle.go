package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/audit"
	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/notify"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
	"github.com/swanstudios/scheduling-server-go/internal/util"
)

const expiredRequestReason = "request expired"

var errSessionMoved = errors.New("session changed owner while waiting for locks")

// legalTransitions lists every status a session may move to. Completed and
// cancelled are terminal.
var legalTransitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionStatusAvailable: {model.SessionStatusRequested, model.SessionStatusBooked, model.SessionStatusBlocked, model.SessionStatusCancelled},
	model.SessionStatusRequested: {model.SessionStatusBooked, model.SessionStatusCancelled},
	model.SessionStatusBooked:    {model.SessionStatusConfirmed, model.SessionStatusCancelled},
	model.SessionStatusConfirmed: {model.SessionStatusCompleted, model.SessionStatusCancelled},
	model.SessionStatusBlocked:   {model.SessionStatusCancelled},
}

func CanTransition(from, to model.SessionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ProposeRequest struct {
	TrainerID      int64
	ClientID       int64
	Window         model.TimeWindow
	Location       string
	Notes          *string
	IdempotencyKey string
}

type SlotRequest struct {
	TrainerID int64
	Window    model.TimeWindow
	Status    model.SessionStatus
	Location  string
	Notes     *string
}

type TransitionOptions struct {
	Reason         *string
	CaloriesBurned *int
}

type ConflictCheckRequest struct {
	TrainerID int64
	ClientID  *int64
	Window    model.TimeWindow
	ExcludeID int64
}

// SessionLifecycle is the only writer of session status. Every write runs
// in a store transaction holding the trainer and client locks, and conflict
// detection is repeated inside that transaction right before the write.
type SessionLifecycle struct {
	store     repository.Store
	detector  *ConflictDetector
	finder    *AlternativeSlotFinder
	validator *AssignmentValidator
	analytics *AnalyticsAggregator
	publisher notify.Publisher
	runner    txRunner
	loc       *time.Location
	now       func() time.Time
}

type LifecycleOptions struct {
	Store          repository.Store
	Detector       *ConflictDetector
	Finder         *AlternativeSlotFinder
	Validator      *AssignmentValidator
	Analytics      *AnalyticsAggregator
	Publisher      notify.Publisher
	BookingTimeout time.Duration
	// Loc is the zone recurring series are laid out in. Defaults to UTC.
	Loc *time.Location
}

func NewSessionLifecycle(opts LifecycleOptions) *SessionLifecycle {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	loc := opts.Loc
	if loc == nil {
		loc = time.UTC
	}
	return &SessionLifecycle{
		store:     opts.Store,
		detector:  opts.Detector,
		finder:    opts.Finder,
		validator: opts.Validator,
		analytics: opts.Analytics,
		publisher: publisher,
		runner:    newTxRunner(opts.Store, opts.BookingTimeout),
		loc:       loc,
		now:       time.Now,
	}
}

func (l *SessionLifecycle) validateWindow(w model.TimeWindow) error {
	if w.Start.IsZero() || w.End.IsZero() {
		return apperrors.MissingRequired("start and end")
	}
	if !w.End.After(w.Start) {
		return apperrors.ValidationError("end must be after start")
	}
	if w.Start.Before(l.now()) {
		return apperrors.ValidationError("session cannot start in the past")
	}
	return nil
}

func sessionLockKeys(s *model.Session) []string {
	keys := []string{repository.TrainerLockKey(s.TrainerID)}
	if s.ClientID != nil {
		keys = append(keys, repository.ClientLockKey(*s.ClientID))
	}
	return keys
}

// withSession loads a session, takes its locks, and hands fn the re-read row.
// If the owner changed between the unlocked read and the lock, the attempt
// is retried.
func (l *SessionLifecycle) withSession(ctx context.Context, sessionID int64, extraKeys []string, fn func(tx repository.Store, s *model.Session) error) error {
	return l.runner.run(ctx, nil, func(tx repository.Store) error {
		seen, err := tx.Sessions().FindByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if seen == nil {
			return apperrors.NotFound("Session")
		}
		keys := append(sessionLockKeys(seen), extraKeys...)

		return tx.InTx(ctx, keys, func(locked repository.Store) error {
			current, err := locked.Sessions().FindByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if current == nil {
				return apperrors.NotFound("Session")
			}
			if current.TrainerID != seen.TrainerID || !sameClient(current.ClientID, seen.ClientID) {
				return apperrors.TransientStore(errSessionMoved)
			}
			return fn(locked, current)
		})
	})
}

func sameClient(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// detect runs conflict detection and, on a hard conflict, attaches
// alternatives and returns the conflict error.
func (l *SessionLifecycle) detect(ctx context.Context, sessions repository.SessionRepository, q ConflictQuery) (*model.ConflictReport, error) {
	report, err := l.detector.Detect(ctx, sessions, q)
	if err != nil {
		return nil, err
	}
	if !report.HasHard() {
		return report, nil
	}
	if l.finder != nil {
		alternatives, err := l.finder.Find(ctx, sessions, q.TrainerID, q.Window, q.ExcludeID)
		if err != nil {
			log.Warn().Err(err).Int64("trainerId", q.TrainerID).Msg("alternative search failed")
		} else {
			report.Alternatives = alternatives
		}
	}
	return report, apperrors.ScheduleConflict(report)
}

func warnings(report *model.ConflictReport) []model.Conflict {
	if report == nil {
		return []model.Conflict{}
	}
	w := report.Warnings()
	if w == nil {
		return []model.Conflict{}
	}
	return w
}

func (l *SessionLifecycle) requestKey(actor model.Actor, req ProposeRequest) (string, error) {
	if req.IdempotencyKey != "" {
		key, err := util.NormalizeRequestKey(req.IdempotencyKey)
		if err != nil {
			return "", apperrors.InvalidInput("Idempotency-Key", "must be a UUID")
		}
		return key, nil
	}
	return util.DeriveRequestKey(
		strconv.FormatInt(req.TrainerID, 10),
		strconv.FormatInt(req.ClientID, 10),
		req.Window.Start.UTC().Format(time.RFC3339Nano),
		req.Window.End.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(actor.ID, 10),
	), nil
}

func sameProposal(s *model.Session, req ProposeRequest) bool {
	return s.TrainerID == req.TrainerID &&
		s.HasClient(req.ClientID) &&
		s.StartTime.Equal(req.Window.Start) &&
		s.EndTime.Equal(req.Window.End)
}

func (l *SessionLifecycle) replay(existing *model.Session, req ProposeRequest) (*model.ProposeResult, error) {
	if !sameProposal(existing, req) {
		return nil, apperrors.ValidationError("Idempotency-Key was already used for a different session")
	}
	return &model.ProposeResult{Session: existing, Warnings: []model.Conflict{}, Replayed: true}, nil
}

// Propose creates a session for a trainer and client pair. Clients create
// requests, trainers and admins create confirmed bookings. Resubmitting the
// same request returns the session created the first time.
func (l *SessionLifecycle) Propose(ctx context.Context, actor model.Actor, req ProposeRequest) (*model.ProposeResult, error) {
	if req.TrainerID <= 0 {
		return nil, apperrors.MissingRequired("trainerId")
	}
	if req.ClientID <= 0 {
		return nil, apperrors.MissingRequired("clientId")
	}
	if err := l.validateWindow(req.Window); err != nil {
		return nil, err
	}
	if (actor.IsClient() && actor.ID != req.ClientID) || (actor.IsTrainer() && actor.ID != req.TrainerID) {
		return nil, apperrors.NotAuthorizedForClient()
	}
	if _, err := l.validator.requireUser(ctx, req.TrainerID, model.RoleTrainer); err != nil {
		return nil, err
	}
	if _, err := l.validator.requireUser(ctx, req.ClientID, model.RoleClient); err != nil {
		return nil, err
	}

	key, err := l.requestKey(actor, req)
	if err != nil {
		return nil, err
	}
	status := model.SessionStatusBooked
	if actor.IsClient() {
		status = model.SessionStatusRequested
	}

	keys := []string{repository.TrainerLockKey(req.TrainerID), repository.ClientLockKey(req.ClientID)}
	var result *model.ProposeResult

	err = l.runner.run(ctx, keys, func(tx repository.Store) error {
		existing, err := tx.Sessions().FindByRequestKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = l.replay(existing, req)
			return err
		}

		if err := l.validator.RequireAssigned(ctx, tx, actor, req.TrainerID, req.ClientID); err != nil {
			return err
		}

		clientID := req.ClientID
		report, err := l.detect(ctx, tx.Sessions(), ConflictQuery{
			TrainerID: req.TrainerID,
			ClientID:  &clientID,
			Window:    req.Window,
		})
		if err != nil {
			return err
		}

		session, err := tx.Sessions().Create(ctx, model.CreateSessionParams{
			TrainerID:  req.TrainerID,
			ClientID:   &clientID,
			StartTime:  req.Window.Start,
			EndTime:    req.Window.End,
			Status:     status,
			Location:   req.Location,
			CreatedBy:  actor.ID,
			RequestKey: &key,
			Notes:      req.Notes,
		})
		if err != nil {
			return err
		}
		result = &model.ProposeResult{Session: session, Warnings: warnings(report)}
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateRequestKey) {
		existing, findErr := l.store.Sessions().FindByRequestKey(ctx, key)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, apperrors.Contention().WithCause(err)
		}
		return l.replay(existing, req)
	}
	if err != nil {
		l.afterRejection(ctx, actor, req.TrainerID, &req.ClientID, err)
		return nil, err
	}
	if result.Replayed {
		log.Info().Int64("sessionId", result.Session.ID).Msg("propose replayed")
		return result, nil
	}

	l.afterWrite(ctx, actor, result.Session, notify.EventSessionCreated, audit.EventSessionCreate, result.Warnings, nil)
	return result, nil
}

// CreateSlot adds trainer-owned time: an open slot clients can book, or a
// blocked period nobody can.
func (l *SessionLifecycle) CreateSlot(ctx context.Context, actor model.Actor, req SlotRequest) (*model.ProposeResult, error) {
	if req.Status != model.SessionStatusAvailable && req.Status != model.SessionStatusBlocked {
		return nil, apperrors.InvalidInput("status", "must be available or blocked")
	}
	if req.TrainerID <= 0 {
		if !actor.IsTrainer() {
			return nil, apperrors.MissingRequired("trainerId")
		}
		req.TrainerID = actor.ID
	}
	if !actor.IsAdmin() && !(actor.IsTrainer() && actor.ID == req.TrainerID) {
		return nil, apperrors.Forbidden("only the trainer or an admin can manage this schedule")
	}
	if err := l.validateWindow(req.Window); err != nil {
		return nil, err
	}
	if _, err := l.validator.requireUser(ctx, req.TrainerID, model.RoleTrainer); err != nil {
		return nil, err
	}

	var result *model.ProposeResult
	err := l.runner.run(ctx, []string{repository.TrainerLockKey(req.TrainerID)}, func(tx repository.Store) error {
		report, err := l.detect(ctx, tx.Sessions(), ConflictQuery{TrainerID: req.TrainerID, Window: req.Window})
		if err != nil {
			return err
		}
		session, err := tx.Sessions().Create(ctx, model.CreateSessionParams{
			TrainerID: req.TrainerID,
			StartTime: req.Window.Start,
			EndTime:   req.Window.End,
			Status:    req.Status,
			Location:  req.Location,
			CreatedBy: actor.ID,
			Notes:     req.Notes,
		})
		if err != nil {
			return err
		}
		result = &model.ProposeResult{Session: session, Warnings: warnings(report)}
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, req.TrainerID, nil, err)
		return nil, err
	}

	l.afterWrite(ctx, actor, result.Session, notify.EventSessionCreated, audit.EventSessionCreate, result.Warnings, nil)
	return result, nil
}

// Book places a client on an available slot. A client booking creates a
// request for the trainer to accept; a trainer or admin booking is final.
func (l *SessionLifecycle) Book(ctx context.Context, actor model.Actor, sessionID, clientID int64) (*model.ProposeResult, error) {
	if actor.IsClient() {
		if clientID != 0 && clientID != actor.ID {
			return nil, apperrors.NotAuthorizedForClient()
		}
		clientID = actor.ID
	}
	if clientID <= 0 {
		return nil, apperrors.MissingRequired("clientId")
	}
	if _, err := l.validator.requireUser(ctx, clientID, model.RoleClient); err != nil {
		return nil, err
	}

	target := model.SessionStatusBooked
	if actor.IsClient() {
		target = model.SessionStatusRequested
	}

	var result *model.ProposeResult
	var from model.SessionStatus
	err := l.withSession(ctx, sessionID, []string{repository.ClientLockKey(clientID)}, func(tx repository.Store, s *model.Session) error {
		from = s.Status
		if actor.IsTrainer() && s.TrainerID != actor.ID {
			return apperrors.NotAuthorizedForClient()
		}
		if err := l.validator.RequireAssigned(ctx, tx, actor, s.TrainerID, clientID); err != nil {
			return err
		}
		if s.Status != model.SessionStatusAvailable {
			return apperrors.InvalidTransition(string(s.Status), string(target))
		}
		if s.StartTime.Before(l.now()) {
			return apperrors.ValidationError("session cannot start in the past")
		}

		report, err := l.detect(ctx, tx.Sessions(), ConflictQuery{
			TrainerID: s.TrainerID,
			ClientID:  &clientID,
			Window:    s.Window(),
			ExcludeID: s.ID,
		})
		if err != nil {
			return err
		}

		updated, err := tx.Sessions().UpdateStatus(ctx, s.ID, model.StatusChange{
			Status:   target,
			ActorID:  actor.ID,
			At:       l.now(),
			ClientID: &clientID,
		})
		if err != nil {
			return err
		}
		result = &model.ProposeResult{Session: updated, Warnings: warnings(report)}
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, 0, &clientID, err)
		return nil, err
	}

	l.afterWrite(ctx, actor, result.Session, notify.EventSessionBooked, audit.EventSessionBook, result.Warnings, map[string]interface{}{
		"fromStatus": string(from),
	})
	return result, nil
}

// Transition moves a session along the state machine. Authorization is
// checked before legality so callers cannot inspect other clients' sessions.
func (l *SessionLifecycle) Transition(ctx context.Context, actor model.Actor, sessionID int64, target model.SessionStatus, opts TransitionOptions) (*model.ProposeResult, error) {
	if !target.Valid() {
		return nil, apperrors.InvalidInput("status", "unknown session status")
	}
	if target == model.SessionStatusCancelled {
		session, err := l.Cancel(ctx, actor, sessionID, opts.Reason)
		if err != nil {
			return nil, err
		}
		return &model.ProposeResult{Session: session, Warnings: []model.Conflict{}}, nil
	}
	if opts.CaloriesBurned != nil && *opts.CaloriesBurned < 0 {
		return nil, apperrors.InvalidInput("caloriesBurned", "must not be negative")
	}

	var result *model.ProposeResult
	var from model.SessionStatus
	err := l.withSession(ctx, sessionID, nil, func(tx repository.Store, s *model.Session) error {
		from = s.Status
		if err := l.validator.Authorize(ctx, tx, actor, s); err != nil {
			return err
		}
		if actor.IsClient() {
			return apperrors.Forbidden("clients can only book or cancel sessions")
		}
		if !CanTransition(s.Status, target) {
			return apperrors.InvalidTransition(string(s.Status), string(target))
		}
		if s.ClientID == nil && target != model.SessionStatusBlocked {
			return apperrors.ValidationError("session has no client, book it first")
		}
		if target == model.SessionStatusCompleted && l.now().Before(s.StartTime) {
			return apperrors.ValidationError("session has not started yet")
		}

		report := &model.ConflictReport{}
		if !s.Status.IsBlocking() && target.IsBlocking() {
			var err error
			report, err = l.detect(ctx, tx.Sessions(), ConflictQuery{
				TrainerID: s.TrainerID,
				ClientID:  s.ClientID,
				Window:    s.Window(),
				ExcludeID: s.ID,
			})
			if err != nil {
				return err
			}
		}

		change := model.StatusChange{Status: target, ActorID: actor.ID, At: l.now()}
		if target == model.SessionStatusCompleted {
			change.CaloriesBurned = opts.CaloriesBurned
		}
		updated, err := tx.Sessions().UpdateStatus(ctx, s.ID, change)
		if err != nil {
			return err
		}
		result = &model.ProposeResult{Session: updated, Warnings: warnings(report)}
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, 0, nil, err)
		return nil, err
	}

	l.afterWrite(ctx, actor, result.Session, notify.EventSessionStatusChanged, audit.EventSessionTransition, result.Warnings, map[string]interface{}{
		"fromStatus": string(from),
		"toStatus":   string(target),
	})
	return result, nil
}

// Cancel is legal from every non-terminal status. The row is kept.
func (l *SessionLifecycle) Cancel(ctx context.Context, actor model.Actor, sessionID int64, reason *string) (*model.Session, error) {
	var cancelled *model.Session
	var from model.SessionStatus
	err := l.withSession(ctx, sessionID, nil, func(tx repository.Store, s *model.Session) error {
		from = s.Status
		if err := l.validator.Authorize(ctx, tx, actor, s); err != nil {
			return err
		}
		if s.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(s.Status), string(model.SessionStatusCancelled))
		}
		updated, err := tx.Sessions().UpdateStatus(ctx, s.ID, model.StatusChange{
			Status:  model.SessionStatusCancelled,
			ActorID: actor.ID,
			At:      l.now(),
			Reason:  reason,
		})
		if err != nil {
			return err
		}
		cancelled = updated
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, 0, nil, err)
		return nil, err
	}

	details := map[string]interface{}{"fromStatus": string(from)}
	if reason != nil {
		details["reason"] = *reason
	}
	l.afterWrite(ctx, actor, cancelled, notify.EventSessionCancelled, audit.EventSessionCancel, nil, details)
	return cancelled, nil
}

// Reschedule moves a session to a new window on the same trainer.
func (l *SessionLifecycle) Reschedule(ctx context.Context, actor model.Actor, sessionID int64, window model.TimeWindow) (*model.ProposeResult, error) {
	if actor.IsClient() {
		return nil, apperrors.Forbidden("only the trainer or an admin can reschedule")
	}
	if err := l.validateWindow(window); err != nil {
		return nil, err
	}

	var result *model.ProposeResult
	var previous model.TimeWindow
	err := l.withSession(ctx, sessionID, nil, func(tx repository.Store, s *model.Session) error {
		if err := l.validator.Authorize(ctx, tx, actor, s); err != nil {
			return err
		}
		if s.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(s.Status), "rescheduled")
		}
		previous = s.Window()

		report, err := l.detect(ctx, tx.Sessions(), ConflictQuery{
			TrainerID: s.TrainerID,
			ClientID:  s.ClientID,
			Window:    window,
			ExcludeID: s.ID,
		})
		if err != nil {
			return err
		}
		updated, err := tx.Sessions().Reschedule(ctx, s.ID, window)
		if err != nil {
			return err
		}
		result = &model.ProposeResult{Session: updated, Warnings: warnings(report)}
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, 0, nil, err)
		return nil, err
	}

	l.afterWrite(ctx, actor, result.Session, notify.EventSessionRescheduled, audit.EventSessionReschedule, result.Warnings, map[string]interface{}{
		"previousStart": previous.Start,
		"previousEnd":   previous.End,
	})
	return result, nil
}

// AssignSessionTrainer hands a session to another trainer. Booked time is
// checked against the new trainer's timeline first.
func (l *SessionLifecycle) AssignSessionTrainer(ctx context.Context, actor model.Actor, sessionID, trainerID int64) (*model.ProposeResult, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin privileges required to assign trainers")
	}
	if trainerID <= 0 {
		return nil, apperrors.MissingRequired("trainerId")
	}
	if _, err := l.validator.requireUser(ctx, trainerID, model.RoleTrainer); err != nil {
		return nil, err
	}

	var result *model.ProposeResult
	var previous int64
	err := l.withSession(ctx, sessionID, []string{repository.TrainerLockKey(trainerID)}, func(tx repository.Store, s *model.Session) error {
		if s.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(s.Status), "reassigned")
		}
		previous = s.TrainerID
		if s.TrainerID == trainerID {
			result = &model.ProposeResult{Session: s, Warnings: []model.Conflict{}}
			return nil
		}

		report, err := l.detect(ctx, tx.Sessions(), ConflictQuery{
			TrainerID: trainerID,
			ClientID:  s.ClientID,
			Window:    s.Window(),
			ExcludeID: s.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.Sessions().Reassign(ctx, s.ID, trainerID); err != nil {
			return err
		}
		updated, err := tx.Sessions().FindByID(ctx, s.ID)
		if err != nil {
			return err
		}
		if updated == nil {
			return apperrors.NotFound("Session")
		}
		result = &model.ProposeResult{Session: updated, Warnings: warnings(report)}
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, trainerID, nil, err)
		return nil, err
	}
	if previous == trainerID {
		return result, nil
	}

	if l.analytics != nil {
		l.analytics.Invalidate(ctx, previous)
	}
	l.afterWrite(ctx, actor, result.Session, notify.EventSessionReassigned, audit.EventSessionReassign, result.Warnings, map[string]interface{}{
		"previousTrainerId": previous,
	})
	return result, nil
}

// CheckConflicts previews what a write would run into without taking locks.
func (l *SessionLifecycle) CheckConflicts(ctx context.Context, actor model.Actor, req ConflictCheckRequest) (*model.ConflictReport, error) {
	if req.TrainerID <= 0 {
		return nil, apperrors.MissingRequired("trainerId")
	}
	if !actor.IsAdmin() && !(actor.IsTrainer() && actor.ID == req.TrainerID) {
		return nil, apperrors.Forbidden("only the trainer or an admin can check this schedule")
	}
	if req.Window.Start.IsZero() || req.Window.End.IsZero() {
		return nil, apperrors.MissingRequired("start and end")
	}
	if !req.Window.End.After(req.Window.Start) {
		return nil, apperrors.ValidationError("end must be after start")
	}

	report, err := l.detect(ctx, l.store.Sessions(), ConflictQuery{
		TrainerID: req.TrainerID,
		ClientID:  req.ClientID,
		Window:    req.Window,
		ExcludeID: req.ExcludeID,
	})
	if err != nil && !isScheduleConflict(err) {
		return nil, err
	}
	return report, nil
}

func isScheduleConflict(err error) bool {
	return apperrors.GetCode(err) == apperrors.ErrCodeScheduleConflict
}

// GetSession returns a session the actor may see.
func (l *SessionLifecycle) GetSession(ctx context.Context, actor model.Actor, sessionID int64) (*model.Session, error) {
	session, err := l.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	ok, err := l.validator.CanView(ctx, actor, session)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotAuthorizedForClient()
	}
	return session, nil
}

// ListSessions scopes the query to the actor: clients see their own
// sessions, trainers their own timeline, admins anything.
func (l *SessionLifecycle) ListSessions(ctx context.Context, actor model.Actor, q model.SessionQuery) ([]model.Session, error) {
	switch actor.Role {
	case model.RoleClient:
		q.ClientID = &actor.ID
		q.OpenForTrainerID = nil
		assignment, err := l.store.Assignments().FindActiveByClient(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if assignment != nil {
			q.OpenForTrainerID = &assignment.TrainerID
		}
	case model.RoleTrainer:
		q.TrainerID = &actor.ID
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return nil, apperrors.InvalidInput("status", fmt.Sprintf("unknown session status %q", s))
		}
	}
	sessions, err := l.store.Sessions().List(ctx, q)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// ExpireRequests cancels requests whose start passed before the cutoff.
// Failures on one session do not stop the rest.
func (l *SessionLifecycle) ExpireRequests(ctx context.Context, before time.Time) (int, error) {
	stale, err := l.store.Sessions().FindExpiredRequests(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("find expired requests: %w", err)
	}

	reason := expiredRequestReason
	expired := 0
	for _, candidate := range stale {
		var cancelled *model.Session
		err := l.withSession(ctx, candidate.ID, nil, func(tx repository.Store, s *model.Session) error {
			if s.Status != model.SessionStatusRequested || !s.StartTime.Before(before) {
				return nil
			}
			updated, err := tx.Sessions().UpdateStatus(ctx, s.ID, model.StatusChange{
				Status: model.SessionStatusCancelled,
				At:     l.now(),
				Reason: &reason,
			})
			cancelled = updated
			return err
		})
		if err != nil {
			log.Error().Err(err).Int64("sessionId", candidate.ID).Msg("failed to expire request")
			continue
		}
		if cancelled == nil {
			continue
		}
		expired++
		l.afterWrite(ctx, model.Actor{}, cancelled, notify.EventSessionCancelled, audit.EventSessionExpire, nil, map[string]interface{}{
			"reason": reason,
		})
	}
	return expired, nil
}

// afterWrite runs once the transaction committed. Nothing here can undo the
// write, so failures are only logged.
func (l *SessionLifecycle) afterWrite(ctx context.Context, actor model.Actor, s *model.Session, eventType notify.EventType, auditType audit.EventType, warned []model.Conflict, details map[string]interface{}) {
	if l.analytics != nil {
		var clientID int64
		if s.ClientID != nil {
			clientID = *s.ClientID
		}
		l.analytics.Invalidate(ctx, s.TrainerID, clientID)
	}

	event := notify.NewEvent(eventType, actor.ID)
	event.TrainerID = s.TrainerID
	event.ClientID = s.ClientID
	event.SessionID = s.ID
	event.Data = s
	if err := l.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Int64("sessionId", s.ID).Str("event", string(eventType)).Msg("failed to publish session event")
	}

	if details == nil {
		details = map[string]interface{}{}
	}
	details["status"] = string(s.Status)
	details["trainerId"] = s.TrainerID
	audit.Log(ctx, audit.Event{
		Type:      auditType,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		SessionID: s.ID,
		Details:   details,
	})

	if len(warned) > 0 {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventConflictOverridden,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			SessionID: s.ID,
			Details:   map[string]interface{}{"warnings": len(warned)},
		})
	}

	log.Info().
		Int64("sessionId", s.ID).
		Int64("trainerId", s.TrainerID).
		Str("status", string(s.Status)).
		Str("event", string(eventType)).
		Msg("session updated")
}

// afterRejection records hard conflicts and permission failures.
func (l *SessionLifecycle) afterRejection(ctx context.Context, actor model.Actor, trainerID int64, clientID *int64, err error) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeScheduleConflict:
		audit.Log(ctx, audit.Event{
			Type:      audit.EventConflictRejected,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			Details:   map[string]interface{}{"trainerId": trainerID},
		})
		if trainerID == 0 {
			return
		}
		event := notify.NewEvent(notify.EventScheduleConflict, actor.ID)
		event.TrainerID = trainerID
		event.ClientID = clientID
		if appErr, ok := apperrors.AsAppError(err); ok {
			event.Data = appErr.Details
		}
		if pubErr := l.publisher.Publish(ctx, event); pubErr != nil {
			log.Warn().Err(pubErr).Int64("trainerId", trainerID).Msg("failed to publish conflict event")
		}
	case apperrors.ErrCodeForbidden:
		audit.Log(ctx, audit.Event{
			Type:      audit.EventPermissionDenied,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
		})
	}
}
