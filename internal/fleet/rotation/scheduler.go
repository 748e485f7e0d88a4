package rotation

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiquitav2/subfleet/internal/shared/logger"
)

// Scheduler drives the rotation sweep on a fixed interval
type Scheduler struct {
	checkInterval time.Duration
	rotator       *Rotator
	logger        *logger.Logger
}

// NewScheduler creates a rotation scheduler
func NewScheduler(checkInterval time.Duration, rotator *Rotator, log *logger.Logger) *Scheduler {
	return &Scheduler{
		checkInterval: checkInterval,
		rotator:       rotator,
		logger:        log.WithComponent("rotation-scheduler"),
	}
}

// Start begins the rotation check loop. Blocks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.Info("rotation scheduler started",
		slog.Duration("check_interval", s.checkInterval))

	// Perform an initial sweep immediately
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rotation scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if err := s.rotator.RotateDue(ctx); err != nil {
		s.logger.ErrorCtx(ctx, "rotation sweep failed", err)
	}
}
