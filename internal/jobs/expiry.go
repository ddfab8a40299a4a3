package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const expiryRunTimeout = 30 * time.Second

// RequestExpirer cancels session requests that started before the cutoff.
type RequestExpirer interface {
	ExpireRequests(ctx context.Context, before time.Time) (int, error)
}

// RequestExpiryJob periodically cancels requests nobody answered before
// their start time passed.
type RequestExpiryJob struct {
	expirer  RequestExpirer
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRequestExpiryJob(expirer RequestExpirer, interval, grace time.Duration) *RequestExpiryJob {
	return &RequestExpiryJob{
		expirer:  expirer,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (j *RequestExpiryJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("grace", j.grace).Msg("request expiry job started")
}

// Stop waits for an in-flight pass to finish. It is safe to call twice.
func (j *RequestExpiryJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("request expiry job stopped")
	})
}

func (j *RequestExpiryJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.expire()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.expire()
		}
	}
}

func (j *RequestExpiryJob) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), expiryRunTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.grace)
	count, err := j.expirer.ExpireRequests(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("failed to expire session requests")
		return
	}
	if count > 0 {
		log.Info().Int("count", count).Time("cutoff", cutoff).Msg("expired session requests")
	}
}
