package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type pendingResumer interface {
	ResumePendingMerges(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically resumes merges whose journal has gone stale, which
// happens when a process died mid-merge.
type Sweeper struct {
	resumer    pendingResumer
	interval   time.Duration
	staleAfter time.Duration
	log        zerolog.Logger
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

func NewSweeper(resumer pendingResumer, interval, staleAfter time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		resumer:    resumer,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "merge-sweeper").Logger(),
		done:       make(chan struct{}),
	}
}

// Start is safe to call more than once.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.log.Info().Dur("interval", s.interval).Msg("merge sweeper started")
	})
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log.Info().Msg("merge sweeper stopped")
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	resumed, err := s.resumer.ResumePendingMerges(ctx, s.staleAfter)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if resumed > 0 {
		s.log.Info().Int("resumed", resumed).Msg("stale merges resumed")
	}
}
