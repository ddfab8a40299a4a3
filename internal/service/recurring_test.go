package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/notify"
)

func day(d, hour, minute int) time.Time {
	return time.Date(2026, 5, d, hour, minute, 0, 0, time.UTC)
}

func mondaysAndWednesdays(from, until int, times ...string) RecurringRequest {
	return RecurringRequest{
		TrainerID: 3,
		From:      day(from, 0, 0),
		Until:     day(until, 0, 0),
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday},
		Times:     times,
		Location:  "Studio A",
	}
}

func TestCreateRecurring(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.lifecycle.CreateRecurring(ctx, adminActor, mondaysAndWednesdays(4, 17, "09:00", "06:00"))
	require.NoError(t, err)

	// Monday 06:00 already passed.
	require.Equal(t, 7, result.Count)
	require.Len(t, result.Sessions, 7)
	assert.NotEmpty(t, result.GroupID)
	assert.Equal(t, day(4, 9, 0), result.Sessions[0].StartTime)
	assert.Equal(t, day(6, 6, 0), result.Sessions[1].StartTime)
	assert.Equal(t, day(13, 9, 0), result.Sessions[6].StartTime)
	for _, s := range result.Sessions {
		assert.Equal(t, model.SessionStatusAvailable, s.Status)
		assert.Equal(t, int64(3), s.TrainerID)
		assert.Equal(t, 60, s.Duration())
		assert.Equal(t, "Studio A", s.Location)
		require.NotNil(t, s.RecurrenceGroup)
		assert.Equal(t, result.GroupID, *s.RecurrenceGroup)
	}
	assert.Equal(t, 7, env.sessionCount(t))
	assert.Equal(t, []notify.EventType{notify.EventSeriesCreated}, env.publisher.types())

	t.Run("blocked series", func(t *testing.T) {
		req := mondaysAndWednesdays(18, 24, "12:00")
		req.Blocked = true
		req.Duration = 30 * time.Minute

		result, err := env.lifecycle.CreateRecurring(ctx, adminActor, req)
		require.NoError(t, err)
		require.Equal(t, 2, result.Count)
		for _, s := range result.Sessions {
			assert.Equal(t, model.SessionStatusBlocked, s.Status)
			assert.Equal(t, 30, s.Duration())
		}
	})
}

func TestCreateRecurring_ConflictRejectsWholeSeries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 3, 12)
	booked := env.book(t, 3, 12, model.TimeWindow{Start: day(6, 9, 30), End: day(6, 10, 30)})

	_, err := env.lifecycle.CreateRecurring(ctx, adminActor, mondaysAndWednesdays(4, 10, "09:00"))
	requireCode(t, err, apperrors.ErrCodeScheduleConflict)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	report, ok := appErr.Details.(*model.SeriesConflictReport)
	require.True(t, ok)
	require.Len(t, report.Occurrences, 1)
	assert.Equal(t, day(6, 9, 0), report.Occurrences[0].Start)
	require.Len(t, report.Occurrences[0].Conflicts, 1)
	assert.Equal(t, booked.ID, report.Occurrences[0].Conflicts[0].SessionID)

	// the Monday occurrence was clear but is not written either
	assert.Equal(t, 1, env.sessionCount(t))
}

func TestCreateRecurring_Validation(t *testing.T) {
	tests := []struct {
		name   string
		actor  model.Actor
		modify func(*RecurringRequest)
		code   apperrors.ErrorCode
	}{
		{"trainer cannot create series", trainerThree, func(*RecurringRequest) {}, apperrors.ErrCodeForbidden},
		{"missing trainer", adminActor, func(r *RecurringRequest) { r.TrainerID = 0 }, apperrors.ErrCodeMissingRequired},
		{"no weekdays", adminActor, func(r *RecurringRequest) { r.Weekdays = nil }, apperrors.ErrCodeInvalidInput},
		{"weekday out of range", adminActor, func(r *RecurringRequest) { r.Weekdays = []time.Weekday{7} }, apperrors.ErrCodeInvalidInput},
		{"no times", adminActor, func(r *RecurringRequest) { r.Times = nil }, apperrors.ErrCodeInvalidInput},
		{"bad clock time", adminActor, func(r *RecurringRequest) { r.Times = []string{"25:00"} }, apperrors.ErrCodeInvalidInput},
		{"end before start", adminActor, func(r *RecurringRequest) { r.Until = day(1, 0, 0) }, apperrors.ErrCodeValidation},
		{"range over a year", adminActor, func(r *RecurringRequest) { r.Until = time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC) }, apperrors.ErrCodeValidation},
		{"too many occurrences", adminActor, func(r *RecurringRequest) {
			r.Until = time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
			r.Weekdays = []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
		}, apperrors.ErrCodeValidation},
		{"only past occurrences", adminActor, func(r *RecurringRequest) {
			r.Until = r.From
			r.Times = []string{"06:00"}
		}, apperrors.ErrCodeValidation},
		{"occurrences overlap", adminActor, func(r *RecurringRequest) { r.Times = []string{"09:00", "09:30"} }, apperrors.ErrCodeValidation},
		{"negative duration", adminActor, func(r *RecurringRequest) { r.Duration = -time.Minute }, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := mondaysAndWednesdays(4, 17, "09:00")
			tt.modify(&req)

			_, err := env.lifecycle.CreateRecurring(context.Background(), tt.actor, req)
			requireCode(t, err, tt.code)
			assert.Equal(t, 0, env.sessionCount(t))
		})
	}
}

func TestUpdateSeries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.lifecycle.CreateRecurring(ctx, adminActor, mondaysAndWednesdays(4, 10, "09:00"))
	require.NoError(t, err)
	require.Equal(t, 2, created.Count)

	t.Run("reassigns and relocates every occurrence", func(t *testing.T) {
		updated, err := env.lifecycle.UpdateSeries(ctx, adminActor, created.GroupID, SeriesUpdate{
			TrainerID: int64Ptr(7),
			Location:  strPtr("Studio B"),
		})
		require.NoError(t, err)
		require.Equal(t, 2, updated.Count)
		for _, s := range updated.Sessions {
			assert.Equal(t, int64(7), s.TrainerID)
			assert.Equal(t, "Studio B", s.Location)
			assert.Equal(t, 60, s.Duration())
		}
		assert.Contains(t, env.publisher.types(), notify.EventSeriesUpdated)
	})

	t.Run("changes duration", func(t *testing.T) {
		d := 90 * time.Minute
		updated, err := env.lifecycle.UpdateSeries(ctx, adminActor, created.GroupID, SeriesUpdate{Duration: &d})
		require.NoError(t, err)
		for _, s := range updated.Sessions {
			assert.Equal(t, 90, s.Duration())
		}
	})

	t.Run("conflict on one occurrence leaves the series untouched", func(t *testing.T) {
		env.assign(t, 9, 13)
		booked := env.book(t, 9, 13, model.TimeWindow{Start: day(6, 10, 0), End: day(6, 11, 0)})

		_, err := env.lifecycle.UpdateSeries(ctx, adminActor, created.GroupID, SeriesUpdate{TrainerID: int64Ptr(9)})
		requireCode(t, err, apperrors.ErrCodeScheduleConflict)

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		report, ok := appErr.Details.(*model.SeriesConflictReport)
		require.True(t, ok)
		require.Len(t, report.Occurrences, 1)
		assert.Equal(t, created.Sessions[1].ID, report.Occurrences[0].SessionID)
		assert.Equal(t, booked.ID, report.Occurrences[0].Conflicts[0].SessionID)

		for _, s := range created.Sessions {
			current, err := env.store.Sessions().FindByID(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(7), current.TrainerID)
		}
	})

	t.Run("requires a change", func(t *testing.T) {
		_, err := env.lifecycle.UpdateSeries(ctx, adminActor, created.GroupID, SeriesUpdate{})
		requireCode(t, err, apperrors.ErrCodeMissingRequired)
	})

	t.Run("admin only", func(t *testing.T) {
		_, err := env.lifecycle.UpdateSeries(ctx, trainerSeven, created.GroupID, SeriesUpdate{Location: strPtr("Gym")})
		requireCode(t, err, apperrors.ErrCodeForbidden)
	})

	t.Run("unknown series", func(t *testing.T) {
		_, err := env.lifecycle.UpdateSeries(ctx, adminActor, "missing", SeriesUpdate{Location: strPtr("Gym")})
		requireCode(t, err, apperrors.ErrCodeNotFound)
	})
}

func TestCancelSeries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 3, 12)

	created, err := env.lifecycle.CreateRecurring(ctx, adminActor, mondaysAndWednesdays(4, 10, "09:00"))
	require.NoError(t, err)
	_, err = env.lifecycle.Book(ctx, clientTwelve, created.Sessions[0].ID, 0)
	require.NoError(t, err)

	cancelled, err := env.lifecycle.CancelSeries(ctx, adminActor, created.GroupID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, cancelled.Count)
	for _, s := range cancelled.Sessions {
		assert.Equal(t, model.SessionStatusCancelled, s.Status)
		require.NotNil(t, s.CancellationReason)
		assert.Equal(t, seriesCancelledReason, *s.CancellationReason)
	}
	assert.Contains(t, env.publisher.types(), notify.EventSeriesCancelled)

	_, err = env.lifecycle.CancelSeries(ctx, adminActor, created.GroupID, nil)
	requireCode(t, err, apperrors.ErrCodeNotFound)

	_, err = env.lifecycle.CancelSeries(ctx, trainerThree, created.GroupID, nil)
	requireCode(t, err, apperrors.ErrCodeForbidden)
}

func TestScheduleStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 3, 12)

	env.book(t, 3, 12, window(at(10, 0), 60))
	_, err := env.lifecycle.CreateSlot(ctx, trainerThree, SlotRequest{TrainerID: 3, Window: window(at(14, 0), 60), Status: model.SessionStatusAvailable})
	require.NoError(t, err)
	_, err = env.lifecycle.CreateSlot(ctx, trainerSeven, SlotRequest{TrainerID: 7, Window: window(at(15, 0), 60), Status: model.SessionStatusAvailable})
	require.NoError(t, err)

	t.Run("client sees own sessions and the assigned trainer's open slots", func(t *testing.T) {
		stats, err := env.lifecycle.ScheduleStats(ctx, clientTwelve)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalSessions)
		assert.Equal(t, 1, stats.AvailableSessions)
		assert.Equal(t, 1, stats.BookedSessions)
		require.NotNil(t, stats.UserBookedSessions)
		assert.Equal(t, 1, *stats.UserBookedSessions)
		assert.Nil(t, stats.TotalClients)
	})

	t.Run("unassigned client sees only own sessions", func(t *testing.T) {
		stats, err := env.lifecycle.ScheduleStats(ctx, clientThirt)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalSessions)
	})

	t.Run("trainer", func(t *testing.T) {
		stats, err := env.lifecycle.ScheduleStats(ctx, trainerThree)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalSessions)
		require.NotNil(t, stats.AssignedSessions)
		assert.Equal(t, 1, *stats.AssignedSessions)
	})

	t.Run("admin", func(t *testing.T) {
		stats, err := env.lifecycle.ScheduleStats(ctx, adminActor)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalSessions)
		assert.Equal(t, 2, stats.AvailableSessions)
		assert.Equal(t, 1, stats.BookedSessions)
		require.NotNil(t, stats.TotalClients)
		require.NotNil(t, stats.TotalTrainers)
		assert.Equal(t, 2, *stats.TotalClients)
		assert.Equal(t, 3, *stats.TotalTrainers)
	})
}

func TestAssignSessionTrainer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 3, 12)
	session := env.book(t, 3, 12, window(at(10, 0), 60))

	result, err := env.lifecycle.AssignSessionTrainer(ctx, adminActor, session.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Session.TrainerID)
	assert.Equal(t, model.SessionStatusBooked, result.Session.Status)
	assert.Contains(t, env.publisher.types(), notify.EventSessionReassigned)

	t.Run("conflicting trainer", func(t *testing.T) {
		env.assign(t, 9, 13)
		env.book(t, 9, 13, window(at(10, 30), 60))

		_, err := env.lifecycle.AssignSessionTrainer(ctx, adminActor, session.ID, 9)
		requireCode(t, err, apperrors.ErrCodeScheduleConflict)

		current, err := env.store.Sessions().FindByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), current.TrainerID)
	})

	t.Run("admin only", func(t *testing.T) {
		_, err := env.lifecycle.AssignSessionTrainer(ctx, trainerSeven, session.ID, 3)
		requireCode(t, err, apperrors.ErrCodeForbidden)
	})

	t.Run("target must be a trainer", func(t *testing.T) {
		_, err := env.lifecycle.AssignSessionTrainer(ctx, adminActor, session.ID, 12)
		require.Error(t, err)
	})

	t.Run("terminal session", func(t *testing.T) {
		_, err := env.lifecycle.Cancel(ctx, adminActor, session.ID, nil)
		require.NoError(t, err)

		_, err = env.lifecycle.AssignSessionTrainer(ctx, adminActor, session.ID, 3)
		requireCode(t, err, apperrors.ErrCodeInvalidTransition)
	})
}
