/*
sweeper.go - Expired session sweeper

PURPOSE:
  Sessions are checked for expiry on every request, but a session that is
  never presented again would stay in the database forever. The sweeper
  periodically deletes every expired session.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Start/Stop are idempotent and safe to call from main's shutdown path

USAGE:
  sweeper := NewSessionSweeper(authService, 15*time.Minute)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - auth/service.go: SweepExpired
  - cmd/server/main.go: Lifecycle
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the part of auth.Service the sweeper needs.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SessionSweeper periodically purges expired sessions.
type SessionSweeper struct {
	Auth          Sweeper
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionSweeper creates a new sweeper.
func NewSessionSweeper(auth Sweeper, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SessionSweeper{
		Auth:          auth,
		CheckInterval: interval,
		Enabled:       true,
	}
}

// Start begins the sweeper.
func (s *SessionSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		zap.L().Info("session sweeper disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	zap.L().Info("session sweeper started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the sweeper and waits for an in-flight sweep.
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		zap.L().Info("session sweeper stopped")
	}
}

func (s *SessionSweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow()

	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns how many sessions were removed.
func (s *SessionSweeper) RunNow() int64 {
	n, err := s.Auth.SweepExpired(context.Background())
	if err != nil {
		zap.L().Error("session sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		zap.L().Info("expired sessions removed", zap.Int64("count", n))
	}
	return n
}
