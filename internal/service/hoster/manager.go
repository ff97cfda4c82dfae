package hoster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mirra-dev/mirra/internal/models"
)

const (
	// DefaultPerHostTimeout bounds a single provider call; a call that
	// exceeds it is recorded as transient_network, not left running.
	DefaultPerHostTimeout = 10 * time.Minute
	// DefaultMaxWorkers caps the fan-out width regardless of how many
	// providers are registered.
	DefaultMaxWorkers = 8
)

// HostSettings is the per-provider runtime configuration the manager
// consults on every job. Credentials live in the adapters themselves.
type HostSettings struct {
	Enabled bool
	// Folder is the remote folder name uploads are filed under, for
	// providers that support folders.
	Folder string
}

// Manager fans a publish job out to every targeted provider adapter
// concurrently and collects one result per provider. Fan-out is
// fail-soft: no provider's failure aborts the others, and the aggregate
// always contains a settled result for every target.
type Manager struct {
	logger  *zap.Logger
	folders *FolderResolver

	perHostTimeout time.Duration
	maxWorkers     int

	mu       sync.RWMutex
	hosters  map[string]Hoster
	settings map[string]HostSettings
	// halted marks providers that returned auth_error; further
	// attempts against them are skipped for the rest of the run.
	halted map[string]bool
}

func NewManager(logger *zap.Logger, perHostTimeout time.Duration, maxWorkers int) *Manager {
	if perHostTimeout <= 0 {
		perHostTimeout = DefaultPerHostTimeout
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Manager{
		logger:         logger,
		folders:        NewFolderResolver(logger),
		perHostTimeout: perHostTimeout,
		maxWorkers:     maxWorkers,
		hosters:        make(map[string]Hoster),
		settings:       make(map[string]HostSettings),
		halted:         make(map[string]bool),
	}
}

func (m *Manager) Register(h Hoster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := h.Name()
	if _, exists := m.hosters[name]; exists {
		return fmt.Errorf("hoster for provider %s already registered", name)
	}

	m.hosters[name] = h
	m.logger.Info("Hoster registered", zap.String("provider", name))
	return nil
}

func (m *Manager) SetHostSettings(provider string, s HostSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[provider] = s
}

func (m *Manager) Get(provider string) (Hoster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, exists := m.hosters[provider]
	if !exists {
		return nil, fmt.Errorf("hoster for provider %s not found", provider)
	}
	return h, nil
}

// Providers returns the registered provider names, sorted for stable
// fan-out ordering.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.hosters))
	for name := range m.hosters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PublishAll runs the job against every targeted provider under a
// bounded worker pool and returns the aggregate outcome. It never
// writes to the catalog store; results flow back to the caller.
func (m *Manager) PublishAll(ctx context.Context, job *models.PublishJob) *models.AggregateOutcome {
	started := time.Now()

	targets := job.Providers
	if len(targets) == 0 {
		targets = m.Providers()
	}

	width := len(targets)
	if width > m.maxWorkers {
		width = m.maxWorkers
	}
	if width < 1 {
		width = 1
	}

	var (
		resMu   sync.Mutex
		results = make(map[string]*models.HostResult, len(targets))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)

	for _, provider := range targets {
		provider := provider
		g.Go(func() error {
			res := m.runHost(gctx, provider, job)

			resMu.Lock()
			results[provider] = res
			resMu.Unlock()

			m.logger.Info("Provider call settled",
				zap.String("provider", provider),
				zap.String("code", job.Code),
				zap.String("correlation_id", job.CorrelationID),
				zap.Bool("success", res.Success),
				zap.String("error_kind", res.ErrorKind),
				zap.Float64("duration_seconds", res.DurationSeconds))
			return nil
		})
	}
	_ = g.Wait()

	outcome := &models.AggregateOutcome{
		Code:          job.Code,
		CorrelationID: job.CorrelationID,
		Results:       results,
		TotalDuration: time.Since(started),
	}
	outcome.TotalDurationS = outcome.TotalDuration.Seconds()
	for _, res := range results {
		if res.Success {
			outcome.SuccessCount++
		} else {
			outcome.FailureCount++
		}
	}
	return outcome
}

func (m *Manager) runHost(ctx context.Context, provider string, job *models.PublishJob) (res *models.HostResult) {
	started := time.Now()

	// A panicking adapter settles as a failed result instead of taking
	// down the whole fan-out.
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Adapter panicked",
				zap.String("provider", provider),
				zap.Any("panic", r))
			res = FailureResult(provider,
				NewError(provider, KindTransientNetwork, fmt.Sprintf("adapter panic: %v", r), nil), started)
		}
	}()

	m.mu.RLock()
	h, registered := m.hosters[provider]
	settings, hasSettings := m.settings[provider]
	haltedNow := m.halted[provider]
	m.mu.RUnlock()

	if !registered {
		return FailureResult(provider,
			NewError(provider, KindInvalidInput, "provider not registered", nil), started)
	}
	if hasSettings && !settings.Enabled {
		return FailureResult(provider,
			NewError(provider, KindInvalidInput, "provider disabled", nil), started)
	}
	if haltedNow {
		return FailureResult(provider,
			NewError(provider, KindAuthError, "provider halted after earlier auth failure", nil), started)
	}

	hctx, cancel := context.WithTimeout(ctx, m.perHostTimeout)
	defer cancel()

	req := UploadRequest{AssetPath: job.AssetPath, Title: job.Title}

	if fh, ok := h.(FolderHoster); ok && settings.Folder != "" {
		folderID, err := m.folders.GetOrCreate(hctx, fh, provider, settings.Folder)
		if err != nil {
			m.logger.Warn("Folder resolution failed, uploading to root",
				zap.String("provider", provider),
				zap.String("folder", settings.Folder),
				zap.Error(err))
		} else {
			req.FolderID = folderID
		}
	}

	res = h.Upload(hctx, req)
	if res == nil {
		res = FailureResult(provider,
			NewError(provider, KindUnknown, "adapter returned no result", nil), started)
	}

	// A call cut off by the per-host deadline settles as a transient
	// network failure whatever the adapter reported it as.
	if !res.Success && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		res.ErrorKind = string(KindTransientNetwork)
		if res.ErrorMessage == "" {
			res.ErrorMessage = "provider call timed out"
		}
	}

	if !res.Success && res.ErrorKind == string(KindAuthError) {
		m.mu.Lock()
		m.halted[provider] = true
		m.mu.Unlock()
		m.logger.Error("Provider halted for the run after auth failure",
			zap.String("provider", provider))
	}

	return res
}
