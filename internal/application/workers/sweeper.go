package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oteiza/mago/internal/ports"
)

// Sweeper periodically removes terminal tasks older than the retention age.
// The orchestration core never destroys tasks itself; retention is this
// external, timer-driven policy plus the storage TTL backstop.
type Sweeper struct {
	store    ports.TaskStore
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSweeper creates a retention sweeper.
func NewSweeper(store ports.TaskStore, maxAge, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep removes terminal tasks whose completion time is older than the
// retention age. It returns the number of removed tasks.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	tasks, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("retention sweep failed to list tasks", zap.Error(err))
		return 0
	}

	removed := 0
	for _, t := range tasks {
		if !t.State.IsTerminal() || t.CompletedAt == nil || t.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, t.ID); err != nil {
			s.logger.Error("retention sweep failed to delete task",
				zap.String("task_id", t.ID),
				zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("retention sweep complete",
			zap.Int("removed", removed),
			zap.Duration("max_age", s.maxAge))
	}
	return removed
}
