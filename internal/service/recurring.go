package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/audit"
	"github.com/swanstudios/scheduling-server-go/internal/config"
	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/notify"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

const (
	maxSeriesOccurrences = 52
	maxSeriesMonths      = 12

	defaultSeriesDuration = time.Hour
	seriesCancelledReason = "recurring series cancelled"
)

// RecurringRequest lays out a series of slots on the given weekdays and
// clock times between two calendar dates, both inclusive. Only the date
// part of From and Until is used.
type RecurringRequest struct {
	TrainerID int64
	From      time.Time
	Until     time.Time
	Weekdays  []time.Weekday
	Times     []string
	Duration  time.Duration
	Blocked   bool
	Location  string
	Notes     *string
}

// SeriesUpdate changes the remaining occurrences of a series. Nil fields
// are left alone.
type SeriesUpdate struct {
	TrainerID *int64
	Duration  *time.Duration
	Location  *string
}

func (u SeriesUpdate) empty() bool {
	return u.TrainerID == nil && u.Duration == nil && u.Location == nil
}

// occurrences expands req into windows in the lifecycle's zone. Occurrences
// that already started are skipped.
func (l *SessionLifecycle) occurrences(req RecurringRequest) ([]model.TimeWindow, error) {
	if req.From.IsZero() || req.Until.IsZero() {
		return nil, apperrors.MissingRequired("startDate and endDate")
	}
	if len(req.Weekdays) == 0 {
		return nil, apperrors.InvalidInput("daysOfWeek", "must be a non-empty list")
	}
	if len(req.Times) == 0 {
		return nil, apperrors.InvalidInput("times", "must be a non-empty list")
	}

	days := make(map[time.Weekday]bool, len(req.Weekdays))
	for _, d := range req.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return nil, apperrors.InvalidInput("daysOfWeek", "must be between 0 (Sunday) and 6 (Saturday)")
		}
		days[d] = true
	}
	minutes := make([]int, 0, len(req.Times))
	for _, raw := range req.Times {
		m, err := config.ParseClock(raw)
		if err != nil {
			return nil, apperrors.InvalidInput("times", err.Error())
		}
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	first := time.Date(req.From.Year(), req.From.Month(), req.From.Day(), 0, 0, 0, 0, l.loc)
	last := time.Date(req.Until.Year(), req.Until.Month(), req.Until.Day(), 0, 0, 0, 0, l.loc)
	if last.Before(first) {
		return nil, apperrors.ValidationError("endDate must not be before startDate")
	}
	if last.After(first.AddDate(0, maxSeriesMonths, 0)) {
		return nil, apperrors.ValidationError("recurring series exceeds max range")
	}

	now := l.now()
	var windows []model.TimeWindow
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if !days[day.Weekday()] {
			continue
		}
		for _, m := range minutes {
			start := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, l.loc)
			if start.Before(now) {
				continue
			}
			windows = append(windows, model.TimeWindow{Start: start, End: start.Add(req.Duration)})
			if len(windows) > maxSeriesOccurrences {
				return nil, apperrors.ValidationError("recurring series exceeds max occurrences")
			}
		}
	}
	if len(windows) == 0 {
		return nil, apperrors.ValidationError("no valid future occurrences in range")
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].Overlaps(windows[i-1]) {
			return nil, apperrors.ValidationError("occurrences of the series overlap each other")
		}
	}
	return windows, nil
}

func hardConflicts(report *model.ConflictReport) []model.Conflict {
	var hard []model.Conflict
	for _, c := range report.Conflicts {
		if c.Type == model.ConflictTypeHard {
			hard = append(hard, c)
		}
	}
	return hard
}

// CreateRecurring creates every occurrence of a series of available or
// blocked slots in one transaction. A hard conflict on any occurrence
// rejects the whole series and reports each conflicting occurrence.
func (l *SessionLifecycle) CreateRecurring(ctx context.Context, actor model.Actor, req RecurringRequest) (*model.SeriesResult, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin privileges required to create recurring sessions")
	}
	if req.TrainerID <= 0 {
		return nil, apperrors.MissingRequired("trainerId")
	}
	if req.Duration == 0 {
		req.Duration = defaultSeriesDuration
	}
	if req.Duration < 0 || req.Duration > 24*time.Hour {
		return nil, apperrors.InvalidInput("duration", "must be between 1 and 1440 minutes")
	}
	windows, err := l.occurrences(req)
	if err != nil {
		return nil, err
	}
	if _, err := l.validator.requireUser(ctx, req.TrainerID, model.RoleTrainer); err != nil {
		return nil, err
	}

	status := model.SessionStatusAvailable
	if req.Blocked {
		status = model.SessionStatusBlocked
	}
	group := uuid.NewString()

	var result *model.SeriesResult
	err = l.runner.run(ctx, []string{repository.TrainerLockKey(req.TrainerID)}, func(tx repository.Store) error {
		var (
			rejected []model.OccurrenceConflict
			warned   []model.Conflict
		)
		for _, w := range windows {
			report, err := l.detector.Detect(ctx, tx.Sessions(), ConflictQuery{TrainerID: req.TrainerID, Window: w})
			if err != nil {
				return err
			}
			if hard := hardConflicts(report); len(hard) > 0 {
				rejected = append(rejected, model.OccurrenceConflict{Start: w.Start, End: w.End, Conflicts: hard})
				continue
			}
			warned = append(warned, report.Warnings()...)
		}
		if len(rejected) > 0 {
			return apperrors.ScheduleConflict(&model.SeriesConflictReport{Occurrences: rejected})
		}

		result = &model.SeriesResult{GroupID: group, Sessions: make([]model.Session, 0, len(windows)), Warnings: warned}
		for _, w := range windows {
			session, err := tx.Sessions().Create(ctx, model.CreateSessionParams{
				TrainerID:       req.TrainerID,
				StartTime:       w.Start,
				EndTime:         w.End,
				Status:          status,
				Location:        req.Location,
				CreatedBy:       actor.ID,
				Notes:           req.Notes,
				RecurrenceGroup: &group,
			})
			if err != nil {
				return err
			}
			result.Sessions = append(result.Sessions, *session)
		}
		result.Count = len(result.Sessions)
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, req.TrainerID, nil, err)
		return nil, err
	}
	if result.Warnings == nil {
		result.Warnings = []model.Conflict{}
	}

	l.afterSeries(ctx, actor, result, notify.EventSeriesCreated, audit.EventSeriesCreate, []int64{req.TrainerID})
	return result, nil
}

// remainingOccurrences keeps the occurrences that have not started and are
// still open to change.
func (l *SessionLifecycle) remainingOccurrences(sessions []model.Session) []model.Session {
	now := l.now()
	var out []model.Session
	for _, s := range sessions {
		if s.Status.IsTerminal() || s.StartTime.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// withSeries loads the remaining occurrences of a series, locks every
// trainer and client involved plus extraKeys, and hands fn the re-read
// occurrences. A series whose owners changed while waiting is retried.
func (l *SessionLifecycle) withSeries(ctx context.Context, groupID string, extraKeys []string, fn func(tx repository.Store, sessions []model.Session) error) error {
	query := model.SessionQuery{RecurrenceGroup: &groupID}
	return l.runner.run(ctx, nil, func(tx repository.Store) error {
		all, err := tx.Sessions().List(ctx, query)
		if err != nil {
			return err
		}
		seen := l.remainingOccurrences(all)
		if len(seen) == 0 {
			return apperrors.NotFound("Recurring series")
		}

		keys := append([]string(nil), extraKeys...)
		owners := make(map[int64]model.Session, len(seen))
		for i := range seen {
			keys = append(keys, sessionLockKeys(&seen[i])...)
			owners[seen[i].ID] = seen[i]
		}

		return tx.InTx(ctx, keys, func(locked repository.Store) error {
			all, err := locked.Sessions().List(ctx, query)
			if err != nil {
				return err
			}
			current := l.remainingOccurrences(all)
			if len(current) == 0 {
				return apperrors.NotFound("Recurring series")
			}
			for _, s := range current {
				prev, ok := owners[s.ID]
				if !ok || prev.TrainerID != s.TrainerID || !sameClient(prev.ClientID, s.ClientID) {
					return apperrors.TransientStore(errSessionMoved)
				}
			}
			return fn(locked, current)
		})
	})
}

// UpdateSeries applies upd to every remaining occurrence of a series. Moved
// or reassigned occurrences are checked for conflicts first; if any
// occurrence conflicts, nothing is changed.
func (l *SessionLifecycle) UpdateSeries(ctx context.Context, actor model.Actor, groupID string, upd SeriesUpdate) (*model.SeriesResult, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin privileges required to update recurring sessions")
	}
	if groupID == "" {
		return nil, apperrors.MissingRequired("groupId")
	}
	if upd.empty() {
		return nil, apperrors.MissingRequired("trainerId, duration or location")
	}
	if upd.Duration != nil && (*upd.Duration <= 0 || *upd.Duration > 24*time.Hour) {
		return nil, apperrors.InvalidInput("duration", "must be between 1 and 1440 minutes")
	}
	var extraKeys []string
	if upd.TrainerID != nil {
		if _, err := l.validator.requireUser(ctx, *upd.TrainerID, model.RoleTrainer); err != nil {
			return nil, err
		}
		extraKeys = append(extraKeys, repository.TrainerLockKey(*upd.TrainerID))
	}

	var (
		result   *model.SeriesResult
		trainers []int64
	)
	err := l.withSeries(ctx, groupID, extraKeys, func(tx repository.Store, sessions []model.Session) error {
		var (
			rejected []model.OccurrenceConflict
			warned   []model.Conflict
		)
		for _, s := range sessions {
			trainerID, w := s.TrainerID, s.Window()
			if upd.TrainerID != nil {
				trainerID = *upd.TrainerID
			}
			if upd.Duration != nil {
				w.End = w.Start.Add(*upd.Duration)
			}
			if trainerID == s.TrainerID && w.End.Equal(s.EndTime) {
				continue
			}
			report, err := l.detector.Detect(ctx, tx.Sessions(), ConflictQuery{
				TrainerID: trainerID,
				ClientID:  s.ClientID,
				Window:    w,
				ExcludeID: s.ID,
			})
			if err != nil {
				return err
			}
			if hard := hardConflicts(report); len(hard) > 0 {
				rejected = append(rejected, model.OccurrenceConflict{SessionID: s.ID, Start: w.Start, End: w.End, Conflicts: hard})
				continue
			}
			warned = append(warned, report.Warnings()...)
		}
		if len(rejected) > 0 {
			return apperrors.ScheduleConflict(&model.SeriesConflictReport{Occurrences: rejected})
		}

		result = &model.SeriesResult{GroupID: groupID, Sessions: make([]model.Session, 0, len(sessions)), Warnings: warned}
		for _, s := range sessions {
			trainers = append(trainers, s.TrainerID)
			if upd.TrainerID != nil && *upd.TrainerID != s.TrainerID {
				if err := tx.Sessions().Reassign(ctx, s.ID, *upd.TrainerID); err != nil {
					return err
				}
			}
			if upd.Duration != nil {
				if _, err := tx.Sessions().Reschedule(ctx, s.ID, model.TimeWindow{Start: s.StartTime, End: s.StartTime.Add(*upd.Duration)}); err != nil {
					return err
				}
			}
			if upd.Location != nil {
				if err := tx.Sessions().UpdateLocation(ctx, s.ID, *upd.Location); err != nil {
					return err
				}
			}
			updated, err := tx.Sessions().FindByID(ctx, s.ID)
			if err != nil {
				return err
			}
			if updated == nil {
				return apperrors.NotFound("Session")
			}
			result.Sessions = append(result.Sessions, *updated)
		}
		result.Count = len(result.Sessions)
		return nil
	})
	if err != nil {
		var trainerID int64
		if upd.TrainerID != nil {
			trainerID = *upd.TrainerID
		}
		l.afterRejection(ctx, actor, trainerID, nil, err)
		return nil, err
	}
	if result.Warnings == nil {
		result.Warnings = []model.Conflict{}
	}
	if upd.TrainerID != nil {
		trainers = append(trainers, *upd.TrainerID)
	}

	l.afterSeries(ctx, actor, result, notify.EventSeriesUpdated, audit.EventSeriesUpdate, trainers)
	return result, nil
}

// CancelSeries cancels every remaining occurrence of a series. Occurrences
// in the past or already terminal are kept as they are.
func (l *SessionLifecycle) CancelSeries(ctx context.Context, actor model.Actor, groupID string, reason *string) (*model.SeriesResult, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin privileges required to cancel recurring sessions")
	}
	if groupID == "" {
		return nil, apperrors.MissingRequired("groupId")
	}
	if reason == nil || *reason == "" {
		r := seriesCancelledReason
		reason = &r
	}

	var (
		result   *model.SeriesResult
		trainers []int64
	)
	err := l.withSeries(ctx, groupID, nil, func(tx repository.Store, sessions []model.Session) error {
		result = &model.SeriesResult{GroupID: groupID, Sessions: make([]model.Session, 0, len(sessions)), Warnings: []model.Conflict{}}
		for _, s := range sessions {
			updated, err := tx.Sessions().UpdateStatus(ctx, s.ID, model.StatusChange{
				Status:  model.SessionStatusCancelled,
				ActorID: actor.ID,
				At:      l.now(),
				Reason:  reason,
			})
			if err != nil {
				return err
			}
			trainers = append(trainers, s.TrainerID)
			result.Sessions = append(result.Sessions, *updated)
		}
		result.Count = len(result.Sessions)
		return nil
	})
	if err != nil {
		l.afterRejection(ctx, actor, 0, nil, err)
		return nil, err
	}

	l.afterSeries(ctx, actor, result, notify.EventSeriesCancelled, audit.EventSeriesCancel, trainers)
	return result, nil
}

// afterSeries publishes one event per affected trainer instead of one per
// occurrence.
func (l *SessionLifecycle) afterSeries(ctx context.Context, actor model.Actor, result *model.SeriesResult, eventType notify.EventType, auditType audit.EventType, trainerIDs []int64) {
	users := make(map[int64]bool)
	for _, id := range trainerIDs {
		users[id] = true
	}
	for _, s := range result.Sessions {
		users[s.TrainerID] = true
		if s.ClientID != nil {
			users[*s.ClientID] = true
		}
	}
	if l.analytics != nil {
		ids := make([]int64, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		l.analytics.Invalidate(ctx, ids...)
	}

	notified := make(map[int64]bool)
	for _, id := range trainerIDs {
		if notified[id] {
			continue
		}
		notified[id] = true
		event := notify.NewEvent(eventType, actor.ID)
		event.TrainerID = id
		event.Data = map[string]any{"recurrenceGroup": result.GroupID, "count": result.Count}
		if err := l.publisher.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("group", result.GroupID).Str("event", string(eventType)).Msg("failed to publish series event")
		}
	}

	audit.Log(ctx, audit.Event{
		Type:      auditType,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Details:   map[string]interface{}{"recurrenceGroup": result.GroupID, "count": result.Count},
	})

	log.Info().
		Str("group", result.GroupID).
		Int("count", result.Count).
		Str("event", string(eventType)).
		Msg("recurring series updated")
}
