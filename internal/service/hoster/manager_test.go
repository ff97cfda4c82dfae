package hoster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/models"
)

type fakeHoster struct {
	name string
	// blockUntilCancel makes Upload hang until the per-host context is
	// cancelled, simulating a provider that never answers.
	blockUntilCancel bool
	failKind         Kind
	entry            *models.HostingEntry
}

func (f *fakeHoster) Name() string { return f.name }

func (f *fakeHoster) Upload(ctx context.Context, req UploadRequest) *models.HostResult {
	started := time.Now()
	if f.blockUntilCancel {
		<-ctx.Done()
		return FailureResult(f.name, ClassifyTransport(f.name, ctx.Err()), started)
	}
	if f.failKind != "" {
		return FailureResult(f.name, NewError(f.name, f.failKind, "induced failure", nil), started)
	}
	entry := f.entry
	if entry == nil {
		entry = &models.HostingEntry{EmbedURL: "https://" + f.name + ".example/e/x"}
	}
	return SuccessResult(f.name, entry, started)
}

func newTestManager(t *testing.T, timeout time.Duration, hosters ...Hoster) *Manager {
	t.Helper()
	m := NewManager(zap.NewNop(), timeout, 0)
	for _, h := range hosters {
		require.NoError(t, m.Register(h))
		m.SetHostSettings(h.Name(), HostSettings{Enabled: true})
	}
	return m
}

func TestPublishAllFailSoft(t *testing.T) {
	m := newTestManager(t, 100*time.Millisecond,
		&fakeHoster{name: "alpha"},
		&fakeHoster{name: "beta", blockUntilCancel: true},
		&fakeHoster{name: "gamma"},
	)

	outcome := m.PublishAll(context.Background(), &models.PublishJob{Code: "ABCD-1234"})

	require.Len(t, outcome.Results, 3)
	assert.Equal(t, 2, outcome.SuccessCount)
	assert.Equal(t, 1, outcome.FailureCount)

	assert.True(t, outcome.Results["alpha"].Success)
	assert.True(t, outcome.Results["gamma"].Success)

	timedOut := outcome.Results["beta"]
	require.NotNil(t, timedOut)
	assert.False(t, timedOut.Success)
	assert.Equal(t, string(KindTransientNetwork), timedOut.ErrorKind)

	entries := outcome.SuccessfulEntries()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "alpha")
	assert.Contains(t, entries, "gamma")
}

func TestPublishAllTargetsSubset(t *testing.T) {
	m := newTestManager(t, time.Second,
		&fakeHoster{name: "alpha"},
		&fakeHoster{name: "beta"},
	)

	outcome := m.PublishAll(context.Background(), &models.PublishJob{
		Code:      "ABCD-1234",
		Providers: []string{"beta"},
	})

	require.Len(t, outcome.Results, 1)
	assert.True(t, outcome.Results["beta"].Success)
}

func TestPublishAllUnknownProvider(t *testing.T) {
	m := newTestManager(t, time.Second, &fakeHoster{name: "alpha"})

	outcome := m.PublishAll(context.Background(), &models.PublishJob{
		Code:      "ABCD-1234",
		Providers: []string{"alpha", "ghost"},
	})

	require.Len(t, outcome.Results, 2)
	assert.True(t, outcome.Results["alpha"].Success)
	assert.Equal(t, string(KindInvalidInput), outcome.Results["ghost"].ErrorKind)
}

func TestPublishAllDisabledProvider(t *testing.T) {
	m := newTestManager(t, time.Second, &fakeHoster{name: "alpha"})
	m.SetHostSettings("alpha", HostSettings{Enabled: false})

	outcome := m.PublishAll(context.Background(), &models.PublishJob{Code: "ABCD-1234"})

	require.Len(t, outcome.Results, 1)
	assert.False(t, outcome.Results["alpha"].Success)
	assert.Equal(t, string(KindInvalidInput), outcome.Results["alpha"].ErrorKind)
}

func TestAuthFailureHaltsProviderForRun(t *testing.T) {
	m := newTestManager(t, time.Second, &fakeHoster{name: "alpha", failKind: KindAuthError})

	first := m.PublishAll(context.Background(), &models.PublishJob{Code: "ABCD-0001"})
	assert.Equal(t, string(KindAuthError), first.Results["alpha"].ErrorKind)

	second := m.PublishAll(context.Background(), &models.PublishJob{Code: "ABCD-0002"})
	res := second.Results["alpha"]
	assert.Equal(t, string(KindAuthError), res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "halted")
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindAuthError},
		{403, KindAuthError},
		{429, KindRateLimited},
		{500, KindTransientNetwork},
		{503, KindTransientNetwork},
		{408, KindTransientNetwork},
		{400, KindInvalidInput},
		{404, KindInvalidInput},
		{418, KindUnknown},
	}
	for _, tt := range tests {
		err := ClassifyHTTP("test", tt.status, "body")
		assert.Equal(t, tt.want, err.Kind, "status %d", tt.status)
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := NewError("test", KindRateLimited, "slow down", nil)
	wrapped := &wrapErr{inner}
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindTransientNetwork, KindOf(context.DeadlineExceeded))
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }
