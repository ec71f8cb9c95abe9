package usecase

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes expired sessions.
type Sweeper struct {
	useCase  SessionUseCase
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper running ClearExpired every interval.
func NewSweeper(useCase SessionUseCase, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		useCase:  useCase,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is done. It returns nil on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting session sweeper", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping session sweeper")
			return nil
		case <-ticker.C:
			removed, err := s.useCase.ClearExpired(ctx)
			if err != nil {
				s.logger.Error("failed to clear expired sessions", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				s.logger.Debug("expired sessions cleared", slog.Int("count", removed))
			}
		}
	}
}
