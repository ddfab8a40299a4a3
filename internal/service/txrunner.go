package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/config"
	apperrors "github.com/swanstudios/scheduling-server-go/internal/errors"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
)

// txRunner runs store transactions under a deadline and retries transient
// failures with jittered exponential backoff.
type txRunner struct {
	store     repository.Store
	timeout   time.Duration
	attempts  int
	baseDelay time.Duration
}

func newTxRunner(store repository.Store, timeout time.Duration) txRunner {
	return txRunner{
		store:     store,
		timeout:   timeout,
		attempts:  config.StoreRetryAttempts,
		baseDelay: config.StoreRetryBaseDelay,
	}
}

// run returns TIMEOUT when the deadline passes before commit and CONFLICT
// when every attempt hit a transient failure. Other errors from fn pass
// through untouched.
func (r txRunner) run(ctx context.Context, lockKeys []string, fn func(tx repository.Store) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	attempts := r.attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.store.InTx(ctx, lockKeys, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil && (!apperrors.IsAppError(err) || apperrors.IsTransient(err)) {
			return apperrors.Timeout().WithCause(err)
		}
		if !apperrors.IsTransient(err) {
			return err
		}

		log.Warn().Err(err).Int("attempt", attempt).Strs("lockKeys", lockKeys).Msg("transient store failure")
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(r.backoff(attempt)):
		case <-ctx.Done():
			return apperrors.Timeout().WithCause(ctx.Err())
		}
	}

	return apperrors.Contention().WithCause(err)
}

func (r txRunner) backoff(attempt int) time.Duration {
	if r.baseDelay <= 0 {
		return 0
	}
	delay := r.baseDelay << (attempt - 1)
	return delay + rand.N(r.baseDelay)
}
