// Package supervisor applies the restart policy for fatal backend errors.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixaill76/chat_relay/internal/dispatcher"
	"github.com/mixaill76/chat_relay/internal/monitoring"
)

var ErrRestartBudgetExceeded = errors.New("restart budget exceeded")

const (
	DefaultMaxRestarts = 5
	DefaultWindow      = 10 * time.Minute
)

// Restarter re-establishes backend sessions.
type Restarter interface {
	Purge()
}

// Supervisor restarts backend sessions on fatal errors. When more than
// maxRestarts fatal errors arrive within window it gives up and closes Done.
type Supervisor struct {
	mu          sync.Mutex
	maxRestarts int
	window      time.Duration
	restarts    []time.Time
	restarter   Restarter
	metrics     *monitoring.Metrics
	logger      *slog.Logger
	now         func() time.Time

	done    chan struct{}
	err     error
	stopped bool
}

func New(maxRestarts int, window time.Duration, restarter Restarter, metrics *monitoring.Metrics, logger *slog.Logger) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Supervisor{
		maxRestarts: maxRestarts,
		window:      window,
		restarter:   restarter,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// ReportFatal implements dispatcher.FatalReporter.
func (s *Supervisor) ReportFatal(fe *dispatcher.FatalError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	now := s.now()
	cutoff := now.Add(-s.window)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept

	if len(s.restarts) >= s.maxRestarts {
		s.stopped = true
		s.err = fmt.Errorf("%w: %d restarts within %s, last error: %w",
			ErrRestartBudgetExceeded, len(s.restarts), s.window, fe)
		s.logger.Error("Giving up after repeated fatal backend errors",
			"restarts", len(s.restarts),
			"window", s.window,
			"error", fe,
		)
		close(s.done)
		return
	}

	s.restarts = append(s.restarts, now)
	s.restarter.Purge()
	s.metrics.RecordSupervisorRestart()
	s.logger.Warn("Fatal backend error, sessions restarted",
		"restart", len(s.restarts),
		"max_restarts", s.maxRestarts,
		"attempt", fe.Attempt.Number,
		"error", fe.Err,
	)
}

// Done is closed once the restart budget is exhausted.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns why the supervisor stopped, or nil while it is running.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
