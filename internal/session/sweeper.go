package session

import (
	"context"
	"sync"
	"time"

	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically deletes expired sessions.
type Sweeper struct {
	sessions store.SessionStore
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. Call Start to begin sweeping. An interval of
// zero or less disables the background loop; Sweep still works on demand.
func NewSweeper(sessions store.SessionStore, interval, timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Sweeper{sessions: sessions, interval: interval, timeout: timeout}
}

// Start runs the sweep loop until ctx is done or Stop is called. Calling
// Start on a running Sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	if s.interval <= 0 {
		log.Warn().Dur("interval", s.interval).Msg("Session sweeper disabled")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Session sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session sweeper stopped")
			return

		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to sweep expired sessions")
			}
		}
	}
}

// Sweep deletes expired sessions once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		telemetry.GetMetrics().SessionsSweptTotal.Add(ctx, int64(count))
		log.Info().Int("count", count).Msg("Swept expired sessions")
	}
	return count, nil
}
