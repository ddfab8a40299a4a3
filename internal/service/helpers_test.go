package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swanstudios/scheduling-server-go/internal/cache"
	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	"github.com/swanstudios/scheduling-server-go/internal/notify"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

// Monday 2026-05-04 07:00 UTC.
var testNow = time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)

var (
	adminActor   = model.Actor{ID: 1, Role: model.RoleAdmin}
	trainerThree = model.Actor{ID: 3, Role: model.RoleTrainer}
	trainerSeven = model.Actor{ID: 7, Role: model.RoleTrainer}
	clientTwelve = model.Actor{ID: 12, Role: model.RoleClient}
	clientThirt  = model.Actor{ID: 13, Role: model.RoleClient}
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 5, 4, hour, minute, 0, 0, time.UTC)
}

func window(start time.Time, minutes int) model.TimeWindow {
	return model.TimeWindow{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []notify.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store     *repository.MemoryStore
	cache     *cache.MemoryCache
	publisher *recordingPublisher
	detector  *ConflictDetector
	finder    *AlternativeSlotFinder
	validator *AssignmentValidator
	analytics *AnalyticsAggregator
	lifecycle *SessionLifecycle
}

func allDays() map[time.Weekday]bool {
	days := make(map[time.Weekday]bool)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days[d] = true
	}
	return days
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	for _, u := range []model.User{
		{ID: 1, Role: model.RoleAdmin, Active: true, FirstName: "Morgan", LastName: "Admin"},
		{ID: 3, Role: model.RoleTrainer, Active: true, FirstName: "Sam", LastName: "Three"},
		{ID: 7, Role: model.RoleTrainer, Active: true, FirstName: "Alex", LastName: "Seven"},
		{ID: 9, Role: model.RoleTrainer, Active: true, FirstName: "Jordan", LastName: "Nine"},
		{ID: 12, Role: model.RoleClient, Active: true, FirstName: "Riley", LastName: "Twelve"},
		{ID: 13, Role: model.RoleClient, Active: true, FirstName: "Casey", LastName: "Thirteen"},
		{ID: 20, Role: model.RoleClient, Active: false, FirstName: "Former", LastName: "Client"},
	} {
		store.PutUser(u)
	}

	fixed := func() time.Time { return testNow }
	memCache := cache.NewMemoryCache()
	publisher := &recordingPublisher{}
	detector := NewConflictDetector(15 * time.Minute)

	finder := NewAlternativeSlotFinder(AlternativeFinderOptions{
		Hours:   &ConfigWorkingHours{loc: time.UTC, startMinute: 6 * 60, endMinute: 21 * 60, days: allDays()},
		Buffer:  15 * time.Minute,
		Horizon: 7 * 24 * time.Hour,
		Max:     5,
		Loc:     time.UTC,
	})
	finder.now = fixed

	validator := NewAssignmentValidator(AssignmentValidatorOptions{
		Store:          store,
		Detector:       detector,
		Cache:          memCache,
		StatsTTL:       time.Minute,
		Publisher:      publisher,
		BookingTimeout: 2 * time.Second,
	})
	validator.now = fixed
	validator.runner.baseDelay = time.Millisecond

	analytics := NewAnalyticsAggregator(store, memCache, time.Minute, time.UTC, time.Sunday)
	analytics.now = fixed

	lifecycle := NewSessionLifecycle(LifecycleOptions{
		Store:          store,
		Detector:       detector,
		Finder:         finder,
		Validator:      validator,
		Analytics:      analytics,
		Publisher:      publisher,
		BookingTimeout: 2 * time.Second,
	})
	lifecycle.now = fixed
	lifecycle.runner.baseDelay = time.Millisecond

	return &testEnv{
		store:     store,
		cache:     memCache,
		publisher: publisher,
		detector:  detector,
		finder:    finder,
		validator: validator,
		analytics: analytics,
		lifecycle: lifecycle,
	}
}

func (e *testEnv) assign(t *testing.T, trainerID, clientID int64) {
	t.Helper()
	_, err := e.validator.Assign(context.Background(), adminActor, AssignRequest{TrainerID: trainerID, ClientID: clientID})
	require.NoError(t, err)
}

// book creates a booked session through the lifecycle as an admin.
func (e *testEnv) book(t *testing.T, trainerID, clientID int64, w model.TimeWindow) *model.Session {
	t.Helper()
	result, err := e.lifecycle.Propose(context.Background(), adminActor, ProposeRequest{
		TrainerID: trainerID,
		ClientID:  clientID,
		Window:    w,
	})
	require.NoError(t, err)
	return result.Session
}

func (e *testEnv) sessionCount(t *testing.T) int {
	t.Helper()
	sessions, err := e.store.Sessions().List(context.Background(), model.SessionQuery{})
	require.NoError(t, err)
	return len(sessions)
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.GetCode(err), "unexpected error: %v", err)
}
