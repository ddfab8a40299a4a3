package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swanstudios/scheduling-server-go/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func newSessionParams(trainerID int64, start time.Time, status model.SessionStatus) model.CreateSessionParams {
	return model.CreateSessionParams{
		TrainerID: trainerID,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Status:    status,
		CreatedBy: trainerID,
	}
}

func TestMemoryStore_StagedWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	t.Run("writes are invisible until commit", func(t *testing.T) {
		var created *model.Session
		err := store.InTx(ctx, []string{TrainerLockKey(3)}, func(tx Store) error {
			var err error
			created, err = tx.Sessions().Create(ctx, newSessionParams(3, start, model.SessionStatusBooked))
			require.NoError(t, err)

			outside, err := store.Sessions().FindByID(ctx, created.ID)
			require.NoError(t, err)
			assert.Nil(t, outside)

			inside, err := tx.Sessions().FindByID(ctx, created.ID)
			require.NoError(t, err)
			assert.NotNil(t, inside)
			return nil
		})
		require.NoError(t, err)

		found, err := store.Sessions().FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, model.SessionStatusBooked, found.Status)
	})

	t.Run("error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		var id int64
		err := store.InTx(ctx, []string{TrainerLockKey(3)}, func(tx Store) error {
			s, err := tx.Sessions().Create(ctx, newSessionParams(3, start.Add(3*time.Hour), model.SessionStatusBooked))
			require.NoError(t, err)
			id = s.ID
			return boom
		})
		assert.ErrorIs(t, err, boom)

		found, err := store.Sessions().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestMemoryStore_LocksSerialize(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, []string{TrainerLockKey(1), ClientLockKey(2)}, func(tx Store) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryStore_LockWaitHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = store.InTx(context.Background(), []string{TrainerLockKey(9)}, func(tx Store) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := store.InTx(ctx, []string{TrainerLockKey(9)}, func(tx Store) error {
		t.Fatal("should not acquire a held lock")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_FailsClosedAfterDeadline(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := store.InTx(ctx, nil, func(tx Store) error {
		_, err := tx.Sessions().Create(ctx, newSessionParams(4, time.Now().Add(time.Hour), model.SessionStatusBooked))
		require.NoError(t, err)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	sessions, err := store.Sessions().List(context.Background(), model.SessionQuery{TrainerID: int64Ptr(4)})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestMemoryStore_FaultInjection(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	transient := errors.New("transient")

	t.Run("commit failure discards writes", func(t *testing.T) {
		store.SetFault(func(op string) error {
			if op == "tx.commit" {
				return transient
			}
			return nil
		})
		defer store.SetFault(nil)

		err := store.InTx(ctx, nil, func(tx Store) error {
			_, err := tx.Sessions().Create(ctx, newSessionParams(5, time.Now().Add(time.Hour), model.SessionStatusBooked))
			return err
		})
		assert.ErrorIs(t, err, transient)

		sessions, err := store.Sessions().List(ctx, model.SessionQuery{TrainerID: int64Ptr(5)})
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("after-commit failure keeps writes", func(t *testing.T) {
		store.SetFault(func(op string) error {
			if op == "tx.after_commit" {
				return transient
			}
			return nil
		})
		defer store.SetFault(nil)

		err := store.InTx(ctx, nil, func(tx Store) error {
			_, err := tx.Sessions().Create(ctx, newSessionParams(6, time.Now().Add(time.Hour), model.SessionStatusBooked))
			return err
		})
		assert.ErrorIs(t, err, transient)

		sessions, err := store.Sessions().List(ctx, model.SessionQuery{TrainerID: int64Ptr(6)})
		require.NoError(t, err)
		assert.Len(t, sessions, 1)
	})

	t.Run("read failure", func(t *testing.T) {
		store.SetFault(func(op string) error { return transient })
		defer store.SetFault(nil)

		_, err := store.Assignments().CountActive(ctx)
		assert.ErrorIs(t, err, transient)
		assert.ErrorIs(t, store.Ping(ctx), transient)
	})
}

func TestMemoryStore_RequestKeyUnique(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	params := newSessionParams(7, start, model.SessionStatusRequested)
	params.RequestKey = strPtr("key-1")

	first, err := store.Sessions().Create(ctx, params)
	require.NoError(t, err)

	_, err = store.Sessions().Create(ctx, params)
	assert.ErrorIs(t, err, ErrDuplicateRequestKey)

	found, err := store.Sessions().FindByRequestKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = store.Sessions().UpdateStatus(ctx, first.ID, model.StatusChange{
		Status: model.SessionStatusCancelled, ActorID: 7, At: time.Now(),
	})
	require.NoError(t, err)

	_, err = store.Sessions().Create(ctx, params)
	assert.NoError(t, err, "cancelled sessions release their key")
}

func TestMemoryStore_Assignments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutUser(model.User{ID: 7, Role: model.RoleTrainer, Active: true, FirstName: "Sam", LastName: "Lee"})
	store.PutUser(model.User{ID: 12, Role: model.RoleClient, Active: true})
	store.PutUser(model.User{ID: 13, Role: model.RoleClient, Active: true})

	a, err := store.Assignments().Create(ctx, model.CreateAssignmentParams{TrainerID: 7, ClientID: 12, AssignedBy: 1})
	require.NoError(t, err)

	_, err = store.Assignments().Create(ctx, model.CreateAssignmentParams{TrainerID: 8, ClientID: 12, AssignedBy: 1})
	assert.ErrorIs(t, err, ErrActiveAssignmentExists)

	unassigned, err := store.Assignments().CountUnassignedClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unassigned)

	workload, err := store.Assignments().TrainerWorkload(ctx)
	require.NoError(t, err)
	require.Len(t, workload, 1)
	assert.Equal(t, "Sam Lee", workload[0].TrainerName)
	assert.Equal(t, 1, workload[0].ActiveClients)

	require.NoError(t, store.Assignments().Deactivate(ctx, a.ID, 1, time.Now()))
	active, err := store.Assignments().FindActiveByClient(ctx, 12)
	require.NoError(t, err)
	assert.Nil(t, active)

	history, err := store.Assignments().ListByClient(ctx, 12)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.AssignmentStatusInactive, history[0].Status)
}

func TestMemoryStore_BlockingQueries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	booked := newSessionParams(3, start, model.SessionStatusBooked)
	booked.ClientID = int64Ptr(12)
	_, err := store.Sessions().Create(ctx, booked)
	require.NoError(t, err)
	_, err = store.Sessions().Create(ctx, newSessionParams(3, start.Add(2*time.Hour), model.SessionStatusAvailable))
	require.NoError(t, err)

	window := model.TimeWindow{Start: start.Add(-30 * time.Minute), End: start.Add(4 * time.Hour)}

	trainer, err := store.Sessions().FindBlockingForTrainer(ctx, 3, window)
	require.NoError(t, err)
	assert.Len(t, trainer, 1)

	client, err := store.Sessions().FindBlockingForClient(ctx, 12, window)
	require.NoError(t, err)
	assert.Len(t, client, 1)

	adjacent := model.TimeWindow{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}
	none, err := store.Sessions().FindBlockingForTrainer(ctx, 3, adjacent)
	require.NoError(t, err)
	assert.Empty(t, none)
}
