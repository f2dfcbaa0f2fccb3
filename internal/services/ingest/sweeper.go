package ingest

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
)

// Sweeper periodically expires sources whose TTL has elapsed. Expiry runs
// through the same purge path as manual removal, so an expired source has
// exactly the same absence of chunks and vectors as a deleted one.
type Sweeper struct {
	ingest  *Service
	sources interfaces.SourceStorage
	cron    *cron.Cron
	logger  arbor.ILogger
}

func NewSweeper(ingest *Service, sources interfaces.SourceStorage, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		ingest:  ingest,
		sources: sources,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the sweep on the configured schedule and begins the cron
// loop. A disabled config is a no-op.
func (s *Sweeper) Start(cfg *common.ExpiryConfig) error {
	if cfg == nil || !cfg.Enabled {
		s.logger.Debug().Msg("Expiry sweep disabled")
		return nil
	}

	_, err := s.cron.AddFunc(cfg.Schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Expiry sweep failed")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", cfg.Schedule).Msg("Expiry sweep started")
	return nil
}

// Sweep expires every source past its TTL. Individual failures are logged
// and the sweep continues; the next run retries them.
func (s *Sweeper) Sweep(ctx context.Context) error {
	expired, err := s.sources.ListExpiredSources(time.Now())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	s.logger.Info().Int("count", len(expired)).Msg("Expiring sources past TTL")

	for _, src := range expired {
		if err := s.ingest.Expire(ctx, src.ID); err != nil {
			s.logger.Error().
				Err(err).
				Str("source_id", src.ID).
				Msg("Failed to expire source")
		}
	}
	return nil
}

// Stop halts the cron loop and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
