package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swanstudios/scheduling-server-go/internal/cache"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	redisclient "github.com/swanstudios/scheduling-server-go/internal/redis"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

func completedOn(day time.Time, minutes int, calories *int) model.Session {
	start := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location())
	return model.Session{
		TrainerID:      3,
		ClientID:       int64Ptr(12),
		StartTime:      start,
		EndTime:        start.Add(time.Duration(minutes) * time.Minute),
		Status:         model.SessionStatusCompleted,
		CaloriesBurned: calories,
	}
}

func newAggregator() *AnalyticsAggregator {
	return NewAnalyticsAggregator(repository.NewMemoryStore(), nil, time.Minute, time.UTC, time.Sunday)
}

func TestAnalytics_Empty(t *testing.T) {
	snapshot := newAggregator().Compute(nil, testNow)

	assert.Equal(t, 0, snapshot.TotalSessions)
	assert.Equal(t, 0, snapshot.TotalDuration)
	assert.Equal(t, 0, snapshot.AverageDuration)
	assert.Equal(t, 0, snapshot.CurrentStreak)
	assert.Equal(t, 0, snapshot.LongestStreak)
	require.Len(t, snapshot.WeeklyBuckets, 12)
	for _, b := range snapshot.WeeklyBuckets {
		assert.Zero(t, b.Sessions)
	}
}

func TestAnalytics_Streaks(t *testing.T) {
	agg := newAggregator()
	day := func(offset int) time.Time { return testNow.AddDate(0, 0, offset) }

	t.Run("current run with an older gap", func(t *testing.T) {
		sessions := []model.Session{
			completedOn(day(0), 60, nil),
			completedOn(day(-1), 60, nil),
			completedOn(day(-2), 60, nil),
			completedOn(day(-5), 60, nil),
		}
		snapshot := agg.Compute(sessions, testNow)
		assert.Equal(t, 3, snapshot.CurrentStreak)
		assert.Equal(t, 3, snapshot.LongestStreak)
	})

	t.Run("today without a session does not break the streak", func(t *testing.T) {
		sessions := []model.Session{
			completedOn(day(-1), 60, nil),
			completedOn(day(-2), 60, nil),
		}
		assert.Equal(t, 2, agg.Compute(sessions, testNow).CurrentStreak)
	})

	t.Run("gap before yesterday ends the current streak", func(t *testing.T) {
		sessions := []model.Session{completedOn(day(-2), 60, nil), completedOn(day(-3), 60, nil)}
		snapshot := agg.Compute(sessions, testNow)
		assert.Equal(t, 0, snapshot.CurrentStreak)
		assert.Equal(t, 2, snapshot.LongestStreak)
	})

	t.Run("longest run across two runs", func(t *testing.T) {
		var sessions []model.Session
		for _, d := range []int{1, 2, 3, 5, 6, 7, 8} {
			sessions = append(sessions, completedOn(time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC), 45, nil))
		}
		assert.Equal(t, 4, agg.Compute(sessions, testNow).LongestStreak)
	})

	t.Run("several sessions on one day count once", func(t *testing.T) {
		morning := completedOn(day(0), 30, nil)
		evening := morning
		evening.StartTime = morning.StartTime.Add(8 * time.Hour)
		evening.EndTime = evening.StartTime.Add(30 * time.Minute)
		snapshot := agg.Compute([]model.Session{morning, evening}, testNow)
		assert.Equal(t, 1, snapshot.CurrentStreak)
		assert.Equal(t, 2, snapshot.TotalSessions)
	})
}

func TestAnalytics_Totals(t *testing.T) {
	agg := newAggregator()
	sessions := []model.Session{
		completedOn(testNow, 60, intPtr(400)),
		completedOn(testNow.AddDate(0, 0, -1), 45, intPtr(300)),
		completedOn(testNow.AddDate(0, 0, -9), 50, nil),
		completedOn(testNow.AddDate(0, 0, -200), 30, intPtr(100)),
	}
	cancelled := completedOn(testNow, 90, nil)
	cancelled.Status = model.SessionStatusCancelled
	sessions = append(sessions, cancelled)

	snapshot := agg.Compute(sessions, testNow)
	assert.Equal(t, 4, snapshot.TotalSessions)
	assert.Equal(t, 185, snapshot.TotalDuration)
	assert.Equal(t, 46, snapshot.AverageDuration)
	assert.Equal(t, 800, snapshot.TotalCaloriesBurned)

	// Sunday 2026-05-03 starts the newest bucket, so today and yesterday share it.
	last := snapshot.WeeklyBuckets[11]
	assert.Equal(t, "2026-05-03", last.Week)
	assert.Equal(t, 2, last.Sessions)
	assert.Equal(t, 105, last.Duration)
	assert.Equal(t, 700, last.CaloriesBurned)

	assert.Equal(t, "2026-04-26", snapshot.WeeklyBuckets[10].Week)
	assert.Equal(t, 0, snapshot.WeeklyBuckets[10].Sessions)

	assert.Equal(t, "2026-04-19", snapshot.WeeklyBuckets[9].Week)
	assert.Equal(t, 1, snapshot.WeeklyBuckets[9].Sessions)
	assert.Equal(t, 50, snapshot.WeeklyBuckets[9].Duration)
	assert.Equal(t, "2026-02-15", snapshot.WeeklyBuckets[0].Week)
}

func TestAnalytics_WeekStartMonday(t *testing.T) {
	agg := NewAnalyticsAggregator(repository.NewMemoryStore(), nil, time.Minute, time.UTC, time.Monday)
	// Sunday 2026-05-03 belongs to the week starting Monday 2026-04-27.
	snapshot := agg.Compute([]model.Session{completedOn(testNow.AddDate(0, 0, -1), 60, nil)}, testNow)

	assert.Equal(t, "2026-05-04", snapshot.WeeklyBuckets[11].Week)
	assert.Equal(t, 0, snapshot.WeeklyBuckets[11].Sessions)
	assert.Equal(t, "2026-04-27", snapshot.WeeklyBuckets[10].Week)
	assert.Equal(t, 1, snapshot.WeeklyBuckets[10].Sessions)
}

func TestAnalytics_LocalCalendarDays(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	agg := NewAnalyticsAggregator(repository.NewMemoryStore(), nil, time.Minute, tokyo, time.Sunday)

	// 2026-05-03 20:00 UTC is 2026-05-04 05:00 in Tokyo, the same local day as now.
	s := model.Session{
		StartTime: time.Date(2026, 5, 3, 20, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 5, 3, 21, 0, 0, 0, time.UTC),
		Status:    model.SessionStatusCompleted,
	}
	snapshot := agg.Compute([]model.Session{s}, testNow)
	assert.Equal(t, 1, snapshot.CurrentStreak)
}

func TestAnalytics_ForUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done := seedSession(t, env.store, 3, int64Ptr(12), window(testNow.Add(-26*time.Hour), 60), model.SessionStatusCompleted)
	seedSession(t, env.store, 3, int64Ptr(13), window(testNow.Add(-50*time.Hour), 30), model.SessionStatusCompleted)

	t.Run("client sees own sessions", func(t *testing.T) {
		snapshot, err := env.analytics.ForUser(ctx, 12, model.RoleClient)
		require.NoError(t, err)
		assert.Equal(t, 1, snapshot.TotalSessions)
		assert.Equal(t, 60, snapshot.TotalDuration)
	})

	t.Run("trainer aggregates delivered sessions", func(t *testing.T) {
		snapshot, err := env.analytics.ForUser(ctx, 3, model.RoleTrainer)
		require.NoError(t, err)
		assert.Equal(t, 2, snapshot.TotalSessions)
		assert.Equal(t, 45, snapshot.AverageDuration)
	})

	t.Run("snapshot is cached until invalidated", func(t *testing.T) {
		seedSession(t, env.store, 7, int64Ptr(12), window(testNow.Add(-30*time.Hour), 30), model.SessionStatusCompleted)

		cached, err := env.analytics.ForUser(ctx, 12, model.RoleClient)
		require.NoError(t, err)
		assert.Equal(t, 1, cached.TotalSessions)

		env.analytics.Invalidate(ctx, 12, done.TrainerID)
		_, hit, err := env.cache.Get(ctx, redisclient.AnalyticsKey(12))
		require.NoError(t, err)
		assert.False(t, hit)

		fresh, err := env.analytics.ForUser(ctx, 12, model.RoleClient)
		require.NoError(t, err)
		assert.Equal(t, 2, fresh.TotalSessions)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		env.store.SetFault(func(op string) error {
			if op == "sessions.list_completed_for_user" {
				return assert.AnError
			}
			return nil
		})
		defer env.store.SetFault(nil)

		_, err := env.analytics.ForUser(ctx, 13, model.RoleClient)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestAnalytics_CacheFailureFallsThrough(t *testing.T) {
	store := repository.NewMemoryStore()
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), redisclient.AnalyticsKey(12), []byte("not json"), time.Minute))

	agg := NewAnalyticsAggregator(store, c, time.Minute, time.UTC, time.Sunday)
	snapshot, err := agg.ForUser(context.Background(), 12, model.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.TotalSessions)
}
