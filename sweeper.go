package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const DefaultSweepInterval = time.Hour

// ExpiredItemsClearer is what the sweeper drives, usually a *TieredCache.
type ExpiredItemsClearer interface {
	ClearExpiredItems(context.Context)
}

type SweeperParams struct {
	Cache ExpiredItemsClearer
	// Interval between sweeps, defaults to DefaultSweepInterval
	Interval time.Duration
	// Clock drives the sweep ticker. If not provided, the system clock is used.
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// Sweeper periodically removes expired entries. It does not coordinate
// with foreground cache operations.
type Sweeper struct {
	cache    ExpiredItemsClearer
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	sweepMu   sync.Mutex
	waitGroup sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	running   atomic.Bool
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if params.Interval < 0 {
		return nil, errors.New("interval must not be negative")
	}
	if params.Interval == 0 {
		params.Interval = DefaultSweepInterval
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	return &Sweeper{
		cache:    params.Cache,
		interval: params.Interval,
		clock:    params.Clock,
		logger:   componentLogger(params.Logger, "sweeper"),
		stopChan: make(chan struct{}),
	}, nil
}

// IsRunning returns true while the sweep loop is active
func (s *Sweeper) IsRunning() bool {
	return s.running.Load()
}

// Start starts the sweep loop. Calling it more than once has no effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ticker := s.clock.Ticker(s.interval)
		s.running.Store(true)
		s.waitGroup.Add(1)
		go s.run(ctx, ticker)
	})
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish, or
// until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		done := make(chan struct{})
		go func() {
			s.waitGroup.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
		}
	})
}

func (s *Sweeper) run(ctx context.Context, ticker *clock.Ticker) {
	defer s.waitGroup.Done()
	defer s.running.Store(false)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepNow(ctx)
		case <-s.stopChan:
			s.logger.Debug().Msg("tiered-cache: sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Debug().Msg("tiered-cache: context cancelled, stopping sweeper")
			return
		}
	}
}

// SweepNow runs one sweep synchronously. Concurrent calls are serialized.
func (s *Sweeper) SweepNow(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.clock.Now()
	s.cache.ClearExpiredItems(ctx)
	s.logger.Debug().Dur("took", s.clock.Since(start)).Msg("tiered-cache: sweep finished")
}
