package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/cache"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	redisclient "github.com/swanstudios/scheduling-server-go/internal/redis"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

const (
	analyticsWeeks     = 12
	weekBucketLayout   = "2006-01-02"
	defaultAnalyticTTL = 5 * time.Minute
)

// AnalyticsAggregator summarizes completed sessions per user. Results are
// cached per user and dropped whenever one of the user's sessions changes
// status.
type AnalyticsAggregator struct {
	store     repository.Store
	cache     cache.Cache
	ttl       time.Duration
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
}

func NewAnalyticsAggregator(store repository.Store, c cache.Cache, ttl time.Duration, loc *time.Location, weekStart time.Weekday) *AnalyticsAggregator {
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = defaultAnalyticTTL
	}
	return &AnalyticsAggregator{
		store:     store,
		cache:     c,
		ttl:       ttl,
		loc:       loc,
		weekStart: weekStart,
		now:       time.Now,
	}
}

// ForUser returns the snapshot for a user. Cache failures are logged and
// fall through to the store.
func (a *AnalyticsAggregator) ForUser(ctx context.Context, userID int64, role model.Role) (*model.AnalyticsSnapshot, error) {
	key := redisclient.AnalyticsKey(userID)
	if a.cache != nil {
		var cached model.AnalyticsSnapshot
		hit, err := cache.GetJSON(ctx, a.cache, key, &cached)
		if err != nil {
			log.Warn().Err(err).Int64("userId", userID).Msg("analytics cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	sessions, err := a.store.Sessions().ListCompletedForUser(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	snapshot := a.Compute(sessions, a.now())

	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, snapshot, a.ttl); err != nil {
			log.Warn().Err(err).Int64("userId", userID).Msg("analytics cache write failed")
		}
	}
	return snapshot, nil
}

// Invalidate drops cached snapshots. Zero ids are ignored.
func (a *AnalyticsAggregator) Invalidate(ctx context.Context, userIDs ...int64) {
	if a.cache == nil {
		return
	}
	var keys []string
	for _, id := range userIDs {
		if id != 0 {
			keys = append(keys, redisclient.AnalyticsKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := a.cache.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("analytics cache invalidation failed")
	}
}

// Compute is a pure function of the completed sessions and the current time.
func (a *AnalyticsAggregator) Compute(sessions []model.Session, now time.Time) *model.AnalyticsSnapshot {
	snapshot := &model.AnalyticsSnapshot{
		WeeklyBuckets: a.emptyBuckets(now),
	}

	firstWeek := a.weekOf(now).AddDate(0, 0, -7*(analyticsWeeks-1))
	days := make(map[int]bool)

	for _, s := range sessions {
		if s.Status != model.SessionStatusCompleted {
			continue
		}
		minutes := s.Duration()
		calories := 0
		if s.CaloriesBurned != nil {
			calories = *s.CaloriesBurned
		}

		snapshot.TotalSessions++
		snapshot.TotalDuration += minutes
		snapshot.TotalCaloriesBurned += calories
		days[a.dayNumber(s.StartTime)] = true

		week := a.weekOf(s.StartTime)
		if week.Before(firstWeek) {
			continue
		}
		idx := (a.dayNumber(week) - a.dayNumber(firstWeek)) / 7
		if idx >= analyticsWeeks {
			continue
		}
		bucket := &snapshot.WeeklyBuckets[idx]
		bucket.Sessions++
		bucket.Duration += minutes
		bucket.CaloriesBurned += calories
	}

	if snapshot.TotalSessions > 0 {
		snapshot.AverageDuration = int(math.Round(float64(snapshot.TotalDuration) / float64(snapshot.TotalSessions)))
	}
	snapshot.CurrentStreak = currentStreak(days, a.dayNumber(now))
	snapshot.LongestStreak = longestStreak(days)
	return snapshot
}

func (a *AnalyticsAggregator) emptyBuckets(now time.Time) []model.WeeklyBucket {
	current := a.weekOf(now)
	buckets := make([]model.WeeklyBucket, analyticsWeeks)
	for i := range buckets {
		start := current.AddDate(0, 0, -7*(analyticsWeeks-1-i))
		buckets[i] = model.WeeklyBucket{Week: start.Format(weekBucketLayout)}
	}
	return buckets
}

// weekOf returns local midnight of the first day of t's week.
func (a *AnalyticsAggregator) weekOf(t time.Time) time.Time {
	local := t.In(a.loc)
	offset := (int(local.Weekday()) - int(a.weekStart) + 7) % 7
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	return day.AddDate(0, 0, -offset)
}

// dayNumber counts civil days since the epoch in the aggregator's location,
// so DST shifts never split or merge days.
func (a *AnalyticsAggregator) dayNumber(t time.Time) int {
	local := t.In(a.loc)
	civil := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return int(civil.Unix() / 86400)
}

// currentStreak counts consecutive session days ending today, or ending
// yesterday when there is no session today yet.
func currentStreak(days map[int]bool, today int) int {
	day := today
	if !days[day] {
		day--
	}
	streak := 0
	for days[day] {
		streak++
		day--
	}
	return streak
}

func longestStreak(days map[int]bool) int {
	if len(days) == 0 {
		return 0
	}
	sorted := make([]int, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Ints(sorted)

	longest, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1]+1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
