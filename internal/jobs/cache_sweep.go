package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper drops expired entries and reports how many it removed.
type Sweeper interface {
	Sweep() int
}

// CacheSweepJob evicts expired entries from the in-process cache, which
// otherwise only drops them when they are read again.
type CacheSweepJob struct {
	sweeper  Sweeper
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCacheSweepJob(sweeper Sweeper, interval time.Duration) *CacheSweepJob {
	return &CacheSweepJob{
		sweeper:  sweeper,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CacheSweepJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cache sweep job started")
}

func (j *CacheSweepJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cache sweep job stopped")
	})
}

func (j *CacheSweepJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			if n := j.sweeper.Sweep(); n > 0 {
				log.Debug().Int("count", n).Msg("swept expired cache entries")
			}
		}
	}
}
