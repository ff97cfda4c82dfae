package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/config"
	"github.com/mirra-dev/mirra/internal/service/store"
)

// Scheduler periodically reconciles the quarantine against the catalog
// so codes published out-of-band (or by a crashed run that merged but
// never settled) are released without operator intervention.
type Scheduler struct {
	config     *config.SchedulerConfig
	logger     *zap.Logger
	publishing *PublishService
	catalog    *store.Store
	quarantine *store.Quarantine
	ticker     *time.Ticker
	stopCh     chan struct{}
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, publishing *PublishService, catalog *store.Store, quarantine *store.Quarantine) *Scheduler {
	return &Scheduler{
		config:     cfg,
		logger:     logger,
		publishing: publishing,
		catalog:    catalog,
		quarantine: quarantine,
		stopCh:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.ReconcileInterval)
	if err != nil {
		s.logger.Error("Invalid reconcile interval",
			zap.String("interval", s.config.ReconcileInterval),
			zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("reconcile_interval", s.config.ReconcileInterval))

	s.ticker = time.NewTicker(interval)

	// Run first pass immediately
	go func() {
		s.logger.Info("Running initial reconciliation")
		s.runReconcile()
	}()

	// Start periodic reconciliation
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runReconcile()
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runReconcile() {
	start := time.Now()
	released, err := s.publishing.Reconcile()
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Reconciliation failed",
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	s.logger.Info("Reconciliation completed",
		zap.Int("released", len(released)),
		zap.Int("quarantined", s.quarantine.Len()),
		zap.Int("catalog_records", s.catalog.Len()),
		zap.Duration("duration", duration))
}
