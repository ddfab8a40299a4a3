package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/audit"
	"github.com/swanstudios/scheduling-server-go/internal/cache"
	"github.com/swanstudios/scheduling-server-go/internal/config"
	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/notify"
	redisclient "github.com/swanstudios/scheduling-server-go/internal/redis"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

const statisticsUnavailable = "statistics source unavailable"

type AssignRequest struct {
	TrainerID  int64   `json:"trainerId"`
	ClientID   int64   `json:"clientId"`
	SessionIDs []int64 `json:"sessionIds"`
}

// AssignmentValidator owns the trainer to client authorization link. It
// answers whether an actor may touch a client's sessions and maintains the
// assignment rows behind that answer.
type AssignmentValidator struct {
	store     repository.Store
	detector  *ConflictDetector
	cache     cache.Cache
	statsTTL  time.Duration
	publisher notify.Publisher
	runner    txRunner
	capacity  int
	now       func() time.Time
}

type AssignmentValidatorOptions struct {
	Store          repository.Store
	Detector       *ConflictDetector
	Cache          cache.Cache
	StatsTTL       time.Duration
	Publisher      notify.Publisher
	BookingTimeout time.Duration
}

func NewAssignmentValidator(opts AssignmentValidatorOptions) *AssignmentValidator {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	detector := opts.Detector
	if detector == nil {
		detector = NewConflictDetector(0)
	}
	return &AssignmentValidator{
		store:     opts.Store,
		detector:  detector,
		cache:     opts.Cache,
		statsTTL:  opts.StatsTTL,
		publisher: publisher,
		runner:    newTxRunner(opts.Store, opts.BookingTimeout),
		capacity:  config.TrainerSessionCapacity,
		now:       time.Now,
	}
}

// IsAuthorized reports whether the trainer holds an active assignment for
// the client. Admins always pass.
func (v *AssignmentValidator) IsAuthorized(ctx context.Context, assignments repository.AssignmentRepository, actor model.Actor, trainerID, clientID int64) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	a, err := assignments.FindActivePair(ctx, trainerID, clientID)
	if err != nil {
		return false, err
	}
	return a != nil, nil
}

// Authorize checks write access to a session: admins always, the owning
// trainer while assigned to the session's client, the owning client.
// Failures are the generic permission error.
func (v *AssignmentValidator) Authorize(ctx context.Context, tx repository.Store, actor model.Actor, session *model.Session) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleTrainer:
		if session.TrainerID != actor.ID {
			return apperrors.NotAuthorizedForClient()
		}
		if session.ClientID == nil {
			return nil
		}
		ok, err := v.IsAuthorized(ctx, tx.Assignments(), actor, actor.ID, *session.ClientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NotAuthorizedForClient()
		}
		return nil
	case model.RoleClient:
		if session.HasClient(actor.ID) {
			return nil
		}
		return apperrors.NotAuthorizedForClient()
	default:
		return apperrors.NotAuthorizedForClient()
	}
}

// CanView applies read visibility: clients see their own sessions,
// trainers see their own sessions and those of actively assigned clients,
// admins see everything.
func (v *AssignmentValidator) CanView(ctx context.Context, actor model.Actor, session *model.Session) (bool, error) {
	switch actor.Role {
	case model.RoleAdmin:
		return true, nil
	case model.RoleClient:
		return session.HasClient(actor.ID), nil
	case model.RoleTrainer:
		if session.ClientID == nil {
			return session.TrainerID == actor.ID, nil
		}
		if session.TrainerID == actor.ID {
			return true, nil
		}
		return v.IsAuthorized(ctx, v.store.Assignments(), actor, actor.ID, *session.ClientID)
	}
	return false, nil
}

// RequireAssigned fails unless the pair holds an active assignment. Admins
// always pass.
func (v *AssignmentValidator) RequireAssigned(ctx context.Context, tx repository.Store, actor model.Actor, trainerID, clientID int64) error {
	ok, err := v.IsAuthorized(ctx, tx.Assignments(), actor, trainerID, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotAuthorizedForClient()
	}
	return nil
}

func (v *AssignmentValidator) requireUser(ctx context.Context, id int64, role model.Role) (*model.User, error) {
	u, err := v.store.Users().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !u.Active || u.Role != role {
		return nil, apperrors.ValidationError(fmt.Sprintf("%d is not an active %s", id, role))
	}
	return u, nil
}

// Assign makes trainerID the client's only active trainer. Any previous
// active assignment is deactivated and the listed sessions are re-pointed
// to the new trainer in the same transaction. Sessions that are missing,
// belong to another client or are already terminal are skipped.
func (v *AssignmentValidator) Assign(ctx context.Context, actor model.Actor, req AssignRequest) (*model.AssignmentResult, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin access required")
	}
	if req.TrainerID <= 0 {
		return nil, apperrors.MissingRequired("trainerId")
	}
	if req.ClientID <= 0 {
		return nil, apperrors.MissingRequired("clientId")
	}
	if _, err := v.requireUser(ctx, req.TrainerID, model.RoleTrainer); err != nil {
		return nil, err
	}
	if _, err := v.requireUser(ctx, req.ClientID, model.RoleClient); err != nil {
		return nil, err
	}

	keys := []string{repository.TrainerLockKey(req.TrainerID), repository.ClientLockKey(req.ClientID)}
	var result *model.AssignmentResult

	err := v.runner.run(ctx, keys, func(tx repository.Store) error {
		result = &model.AssignmentResult{
			ReassignedSessionIDs: []int64{},
			SkippedSessionIDs:    []int64{},
		}

		open, err := tx.Sessions().CountOpenForTrainer(ctx, req.TrainerID)
		if err != nil {
			return err
		}
		if open+len(req.SessionIDs) > v.capacity {
			return apperrors.ValidationError(fmt.Sprintf("trainer %d is at capacity", req.TrainerID))
		}

		prev, err := tx.Assignments().FindActiveByClient(ctx, req.ClientID)
		if err != nil {
			return err
		}
		now := v.now()
		if prev != nil {
			if err := tx.Assignments().Deactivate(ctx, prev.ID, actor.ID, now); err != nil {
				return err
			}
			prev.Status = model.AssignmentStatusInactive
			prev.DeactivatedAt = &now
			prev.DeactivatedBy = &actor.ID
			result.Previous = prev
		}

		for _, id := range req.SessionIDs {
			moved, err := v.repointSession(ctx, tx, id, req)
			if err != nil {
				return err
			}
			if moved {
				result.ReassignedSessionIDs = append(result.ReassignedSessionIDs, id)
			} else {
				result.SkippedSessionIDs = append(result.SkippedSessionIDs, id)
			}
		}

		created, err := tx.Assignments().Create(ctx, model.CreateAssignmentParams{
			TrainerID:  req.TrainerID,
			ClientID:   req.ClientID,
			AssignedBy: actor.ID,
			SessionIDs: result.ReassignedSessionIDs,
		})
		if errors.Is(err, repository.ErrActiveAssignmentExists) {
			return apperrors.TransientStore(err)
		}
		if err != nil {
			return err
		}
		result.Assignment = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.invalidateStatistics(ctx)

	event := notify.NewEvent(notify.EventTrainerAssigned, actor.ID)
	event.TrainerID = req.TrainerID
	event.ClientID = &req.ClientID
	event.Data = result
	if err := v.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Int64("clientId", req.ClientID).Msg("failed to publish assignment event")
	}

	details := map[string]interface{}{
		"trainerId":  req.TrainerID,
		"clientId":   req.ClientID,
		"reassigned": len(result.ReassignedSessionIDs),
		"skipped":    len(result.SkippedSessionIDs),
	}
	if result.Previous != nil {
		details["previousTrainerId"] = result.Previous.TrainerID
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventTrainerAssign,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Details:   details,
	})

	log.Info().
		Int64("trainerId", req.TrainerID).
		Int64("clientId", req.ClientID).
		Int("reassigned", len(result.ReassignedSessionIDs)).
		Msg("trainer assigned")

	return result, nil
}

// repointSession moves one session to the new trainer. A blocking session
// is only moved when it fits the new trainer's timeline.
func (v *AssignmentValidator) repointSession(ctx context.Context, tx repository.Store, id int64, req AssignRequest) (bool, error) {
	session, err := tx.Sessions().FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if session == nil || !session.HasClient(req.ClientID) || session.Status.IsTerminal() {
		return false, nil
	}
	if session.TrainerID == req.TrainerID {
		return true, nil
	}

	if session.Status.IsBlocking() {
		report, err := v.detector.Detect(ctx, tx.Sessions(), ConflictQuery{
			TrainerID: req.TrainerID,
			Window:    session.Window(),
			ExcludeID: session.ID,
		})
		if err != nil {
			return false, err
		}
		if report.HasHard() {
			return false, apperrors.ScheduleConflict(report)
		}
	}

	if err := tx.Sessions().Reassign(ctx, session.ID, req.TrainerID); err != nil {
		return false, err
	}
	return true, nil
}

// Unassign deactivates the client's active assignment.
func (v *AssignmentValidator) Unassign(ctx context.Context, actor model.Actor, clientID int64) (*model.Assignment, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin access required")
	}
	if clientID <= 0 {
		return nil, apperrors.MissingRequired("clientId")
	}

	var removed *model.Assignment
	err := v.runner.run(ctx, []string{repository.ClientLockKey(clientID)}, func(tx repository.Store) error {
		active, err := tx.Assignments().FindActiveByClient(ctx, clientID)
		if err != nil {
			return err
		}
		if active == nil {
			return apperrors.NotFound("Active assignment")
		}
		now := v.now()
		if err := tx.Assignments().Deactivate(ctx, active.ID, actor.ID, now); err != nil {
			return err
		}
		active.Status = model.AssignmentStatusInactive
		active.DeactivatedAt = &now
		active.DeactivatedBy = &actor.ID
		removed = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.invalidateStatistics(ctx)
	audit.Log(ctx, audit.Event{
		Type:      audit.EventTrainerUnassign,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Details: map[string]interface{}{
			"trainerId": removed.TrainerID,
			"clientId":  clientID,
		},
	})
	log.Info().Int64("trainerId", removed.TrainerID).Int64("clientId", clientID).Msg("trainer unassigned")

	return removed, nil
}

// TrainerClients lists the trainer's active assignments.
func (v *AssignmentValidator) TrainerClients(ctx context.Context, actor model.Actor, trainerID int64) ([]model.Assignment, error) {
	if !actor.IsAdmin() && !(actor.IsTrainer() && actor.ID == trainerID) {
		return nil, apperrors.NotAuthorizedForClient()
	}
	assignments, err := v.store.Assignments().ListByTrainer(ctx, trainerID, true)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []model.Assignment{}
	}
	return assignments, nil
}

// ClientHistory lists every assignment the client ever had, newest first.
func (v *AssignmentValidator) ClientHistory(ctx context.Context, actor model.Actor, clientID int64) ([]model.Assignment, error) {
	allowed := actor.IsAdmin() || (actor.IsClient() && actor.ID == clientID)
	if !allowed && actor.IsTrainer() {
		ok, err := v.IsAuthorized(ctx, v.store.Assignments(), actor, actor.ID, clientID)
		if err != nil {
			return nil, err
		}
		allowed = ok
	}
	if !allowed {
		return nil, apperrors.NotAuthorizedForClient()
	}

	assignments, err := v.store.Assignments().ListByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []model.Assignment{}
	}
	return assignments, nil
}

// GetStatistics never fails. Each figure is computed independently; when
// some fail the rest are returned flagged degraded, and when all fail the
// last good snapshot is served instead.
func (v *AssignmentValidator) GetStatistics(ctx context.Context) *model.AssignmentStatistics {
	if v.cache != nil {
		var cached model.AssignmentStatistics
		hit, err := cache.GetJSON(ctx, v.cache, redisclient.AssignmentStatsKey, &cached)
		if err != nil {
			log.Warn().Err(err).Msg("statistics cache read failed")
		} else if hit {
			return &cached
		}
	}

	stats := &model.AssignmentStatistics{
		SessionSummary:  map[model.SessionStatus]int{},
		TrainerWorkload: []model.TrainerWorkload{},
		GeneratedAt:     v.now().UTC(),
	}
	failures := 0

	summary, err := v.store.Sessions().CountByStatus(ctx)
	if err != nil {
		failures++
		log.Warn().Err(err).Msg("statistics: session summary unavailable")
	} else {
		stats.SessionSummary = summary
		for _, n := range summary {
			stats.TotalSessions += n
		}
	}

	active, err := v.store.Assignments().CountActive(ctx)
	if err != nil {
		failures++
		log.Warn().Err(err).Msg("statistics: active assignments unavailable")
	} else {
		stats.ActiveAssignments = active
	}

	unassigned, err := v.store.Assignments().CountUnassignedClients(ctx)
	if err != nil {
		failures++
		log.Warn().Err(err).Msg("statistics: unassigned clients unavailable")
	} else {
		stats.UnassignedClients = unassigned
	}

	workload, err := v.store.Assignments().TrainerWorkload(ctx)
	if err != nil {
		failures++
		log.Warn().Err(err).Msg("statistics: trainer workload unavailable")
	} else if workload != nil {
		stats.TrainerWorkload = workload
	}

	if len(stats.TrainerWorkload) > 0 {
		stats.AverageCaseload = round1(float64(stats.ActiveAssignments) / float64(len(stats.TrainerWorkload)))
	}
	if stats.TotalSessions > 0 {
		engaged := stats.SessionSummary[model.SessionStatusRequested] +
			stats.SessionSummary[model.SessionStatusBooked] +
			stats.SessionSummary[model.SessionStatusConfirmed] +
			stats.SessionSummary[model.SessionStatusCompleted]
		stats.AssignmentRate = round1(float64(engaged) / float64(stats.TotalSessions) * 100)
	}

	if failures == 0 {
		v.storeStatistics(ctx, stats)
		return stats
	}

	if failures == 4 && v.cache != nil {
		var last model.AssignmentStatistics
		hit, err := cache.GetJSON(ctx, v.cache, redisclient.AssignmentStatsLastKey, &last)
		if err == nil && hit {
			last.Degraded = true
			last.Error = statisticsUnavailable
			return &last
		}
	}

	stats.Degraded = true
	stats.Error = statisticsUnavailable
	return stats
}

func (v *AssignmentValidator) storeStatistics(ctx context.Context, stats *model.AssignmentStatistics) {
	if v.cache == nil {
		return
	}
	if v.statsTTL > 0 {
		if err := cache.SetJSON(ctx, v.cache, redisclient.AssignmentStatsKey, stats, v.statsTTL); err != nil {
			log.Warn().Err(err).Msg("statistics cache write failed")
		}
	}
	if err := cache.SetJSON(ctx, v.cache, redisclient.AssignmentStatsLastKey, stats, config.AssignmentStatsLastTTL); err != nil {
		log.Warn().Err(err).Msg("statistics snapshot write failed")
	}
}

func (v *AssignmentValidator) invalidateStatistics(ctx context.Context) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Delete(ctx, redisclient.AssignmentStatsKey); err != nil {
		log.Warn().Err(err).Msg("statistics cache invalidation failed")
	}
}

// HealthCheck never fails or panics. Any failing check marks the result
// degraded.
func (v *AssignmentValidator) HealthCheck(ctx context.Context) (health *model.AssignmentHealth) {
	health = &model.AssignmentHealth{
		Service:   "trainer-assignment",
		Status:    model.HealthStatusHealthy,
		Checks:    map[string]string{},
		Timestamp: v.now().UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("assignment health check panicked")
			health.Status = model.HealthStatusDegraded
			health.Error = "health check failed"
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()

	if err := v.store.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("health: store ping failed")
		health.Checks["store"] = "unreachable"
		health.Status = model.HealthStatusDegraded
	} else {
		health.Checks["store"] = "ok"
	}

	rows, err := v.store.Assignments().CountRows(pingCtx)
	if err != nil {
		log.Warn().Err(err).Msg("health: assignment table unreadable")
		health.Checks["assignments"] = "unreadable"
		health.Status = model.HealthStatusDegraded
	} else {
		health.AssignmentRows = rows
		health.Checks["assignments"] = "ok"
	}

	dupes, err := v.store.Assignments().CountDuplicateActive(pingCtx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("health: duplicate check failed")
		health.Checks["uniqueness"] = "unknown"
		health.Status = model.HealthStatusDegraded
	case dupes > 0:
		log.Error().Int("clients", dupes).Msg("health: clients with more than one active trainer")
		health.DuplicateActive = dupes
		health.Checks["uniqueness"] = "violated"
		health.Status = model.HealthStatusDegraded
	default:
		health.Checks["uniqueness"] = "ok"
	}

	if health.Status == model.HealthStatusDegraded {
		health.Error = "one or more checks failed"
	}
	return health
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
