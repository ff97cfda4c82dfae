package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/config"
	"github.com/mirra-dev/mirra/internal/models"
	"github.com/mirra-dev/mirra/internal/service/hoster"
	"github.com/mirra-dev/mirra/internal/service/hoster/doodstream"
	"github.com/mirra-dev/mirra/internal/service/hoster/filemoon"
	"github.com/mirra-dev/mirra/internal/service/hoster/streamtape"
	"github.com/mirra-dev/mirra/internal/service/store"
	"github.com/mirra-dev/mirra/pkg/canon"
)

// PublishService coordinates one publish job end to end: concurrent
// fan-out through the hoster manager, a single catalog merge, and the
// quarantine bookkeeping that follows.
type PublishService struct {
	logger     *zap.Logger
	config     *config.Config
	manager    *hoster.Manager
	catalog    *store.Store
	quarantine *store.Quarantine
}

func NewPublishService(cfg *config.Config, catalog *store.Store, quarantine *store.Quarantine, logger *zap.Logger) *PublishService {
	perHostTimeout, err := time.ParseDuration(cfg.Uploader.PerHostTimeout)
	if err != nil {
		logger.Warn("Invalid per_host_timeout, using default",
			zap.String("value", cfg.Uploader.PerHostTimeout))
		perHostTimeout = 0
	}

	s := &PublishService{
		logger:     logger,
		config:     cfg,
		manager:    hoster.NewManager(logger, perHostTimeout, cfg.Uploader.MaxWorkers),
		catalog:    catalog,
		quarantine: quarantine,
	}

	s.registerHosters()

	return s
}

func (s *PublishService) registerHosters() {
	maxAttempts := s.config.Uploader.MaxAttempts

	if s.config.Hosts.Streamtape.Enabled {
		h := streamtape.New(s.logger, streamtape.Config{
			Login:       s.config.Hosts.Streamtape.Login,
			Key:         s.config.Hosts.Streamtape.Key,
			APIBase:     s.config.Hosts.Streamtape.APIBase,
			MaxAttempts: maxAttempts,
		})
		if err := s.manager.Register(h); err != nil {
			s.logger.Error("Failed to register streamtape hoster", zap.Error(err))
		} else {
			s.manager.SetHostSettings(streamtape.Name, hoster.HostSettings{
				Enabled: true,
				Folder:  s.config.Hosts.Streamtape.Folder,
			})
		}
	}

	if s.config.Hosts.Doodstream.Enabled {
		h := doodstream.New(s.logger, doodstream.Config{
			Key:         s.config.Hosts.Doodstream.Key,
			APIBase:     s.config.Hosts.Doodstream.APIBase,
			MaxAttempts: maxAttempts,
		})
		if err := s.manager.Register(h); err != nil {
			s.logger.Error("Failed to register doodstream hoster", zap.Error(err))
		} else {
			s.manager.SetHostSettings(doodstream.Name, hoster.HostSettings{
				Enabled: true,
				Folder:  s.config.Hosts.Doodstream.Folder,
			})
		}
	}

	if s.config.Hosts.Filemoon.Enabled {
		h := filemoon.New(s.logger, filemoon.Config{
			Key:         s.config.Hosts.Filemoon.Key,
			APIBase:     s.config.Hosts.Filemoon.APIBase,
			MaxAttempts: maxAttempts,
		})
		if err := s.manager.Register(h); err != nil {
			s.logger.Error("Failed to register filemoon hoster", zap.Error(err))
		} else {
			s.manager.SetHostSettings(filemoon.Name, hoster.HostSettings{
				Enabled: true,
				Folder:  s.config.Hosts.Filemoon.Folder,
			})
		}
	}
}

// Manager exposes the hoster manager, mainly so operational commands
// can register or inspect providers directly.
func (s *PublishService) Manager() *hoster.Manager {
	return s.manager
}

// Providers returns the provider names available for publishing.
func (s *PublishService) Providers() []string {
	return s.manager.Providers()
}

// Publish runs the job against every targeted provider, merges the
// successful hosting entries into the catalog in one commit, and
// settles the quarantine. Partial provider failure is not an error; the
// outcome always covers every target. Only a catalog write failure is
// surfaced.
func (s *PublishService) Publish(ctx context.Context, job *models.PublishJob) (*models.AggregateOutcome, error) {
	if job.Code == "" || job.Code == canon.UnknownCode {
		return nil, fmt.Errorf("refusing to publish without a canonical code")
	}
	if job.CorrelationID == "" {
		job.CorrelationID = uuid.NewString()
	}

	s.logger.Info("Publishing clip",
		zap.String("code", job.Code),
		zap.String("asset", job.AssetPath),
		zap.String("correlation_id", job.CorrelationID),
		zap.Strings("providers", job.Providers))

	outcome := s.manager.PublishAll(ctx, job)

	entries := outcome.SuccessfulEntries()
	if len(entries) > 0 {
		now := time.Now().UTC()
		patch := &models.ContentRecord{
			Title:       job.Title,
			Tags:        job.Tags,
			Hosting:     entries,
			ProcessedAt: &now,
		}
		if err := s.catalog.Upsert(job.Code, patch); err != nil {
			return outcome, fmt.Errorf("failed to merge publish outcome into catalog: %w", err)
		}
	}

	if err := s.settleQuarantine(job.Code, outcome); err != nil {
		return outcome, err
	}

	s.logger.Info("Publish job settled",
		zap.String("code", job.Code),
		zap.String("correlation_id", job.CorrelationID),
		zap.Int("successes", outcome.SuccessCount),
		zap.Int("failures", outcome.FailureCount),
		zap.Duration("total", outcome.TotalDuration))

	return outcome, nil
}

func (s *PublishService) settleQuarantine(code string, outcome *models.AggregateOutcome) error {
	if outcome.SuccessCount > 0 {
		// Removal goes through reconciliation so the store update is
		// actually observed before the code leaves quarantine.
		if _, err := s.quarantine.Reconcile(s.catalog); err != nil {
			return fmt.Errorf("failed to reconcile quarantine: %w", err)
		}
		return nil
	}

	// Quarantine holds codes with no hosting entry at all. A code that is
	// already published stays out of it even when a re-publish fails on
	// every provider.
	if rec, ok := s.catalog.Get(code); ok && len(rec.Hosting) > 0 {
		s.logger.Warn("Publish failed on every provider but the code is already hosted, skipping quarantine",
			zap.String("code", code))
		return nil
	}

	if err := s.quarantine.RecordFailure(code, summarizeFailure(outcome)); err != nil {
		return fmt.Errorf("failed to record quarantine entry: %w", err)
	}
	return nil
}

// summarizeFailure folds the per-provider errors into one normalized
// line for the quarantine entry.
func summarizeFailure(outcome *models.AggregateOutcome) string {
	parts := make([]string, 0, len(outcome.Results))
	for provider, res := range outcome.Results {
		if !res.Success {
			parts = append(parts, fmt.Sprintf("%s=%s", provider, res.ErrorKind))
		}
	}
	if len(parts) == 0 {
		return "no providers targeted"
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// Reconcile runs one quarantine reconciliation pass against the
// catalog.
func (s *PublishService) Reconcile() ([]string, error) {
	return s.quarantine.Reconcile(s.catalog)
}
