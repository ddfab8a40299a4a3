package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

func newTestRunner(store repository.Store, timeout time.Duration) txRunner {
	r := newTxRunner(store, timeout)
	r.baseDelay = time.Millisecond
	return r
}

func TestTxRunner(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	transient := apperrors.TransientStore(errors.New("serialization failure"))

	t.Run("success runs once", func(t *testing.T) {
		calls := 0
		err := newTestRunner(store, time.Second).run(ctx, nil, func(repository.Store) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		calls := 0
		err := newTestRunner(store, time.Second).run(ctx, nil, func(repository.Store) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted retries surface as conflict", func(t *testing.T) {
		calls := 0
		err := newTestRunner(store, time.Second).run(ctx, nil, func(repository.Store) error {
			calls++
			return transient
		})
		requireCode(t, err, apperrors.ErrCodeConflict)
		assert.True(t, apperrors.IsRetryable(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		calls := 0
		err := newTestRunner(store, time.Second).run(ctx, nil, func(repository.Store) error {
			calls++
			return apperrors.NotAuthorizedForClient()
		})
		requireCode(t, err, apperrors.ErrCodeForbidden)
		assert.Equal(t, 1, calls)
	})

	t.Run("commit failure is retried", func(t *testing.T) {
		failed := false
		store := repository.NewMemoryStore()
		store.SetFault(func(op string) error {
			if op == "tx.commit" && !failed {
				failed = true
				return transient
			}
			return nil
		})
		calls := 0
		err := newTestRunner(store, time.Second).run(ctx, nil, func(repository.Store) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("deadline while waiting for a lock is a timeout", func(t *testing.T) {
		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = store.InTx(ctx, []string{repository.TrainerLockKey(3)}, func(repository.Store) error {
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		called := false
		err := newTestRunner(store, 30*time.Millisecond).run(ctx, []string{repository.TrainerLockKey(3)}, func(repository.Store) error {
			called = true
			return nil
		})
		close(release)
		<-done

		requireCode(t, err, apperrors.ErrCodeTimeout)
		assert.False(t, called)
	})
}
