package models

import "time"

// PublishJob is one request to mirror a local clip to one or more
// providers. It is transient: jobs are never persisted, only their
// outcome is.
type PublishJob struct {
	AssetPath string   `json:"asset_path"`
	Code      string   `json:"code"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags,omitempty"`
	// Providers limits the fan-out; empty means all registered
	// providers.
	Providers     []string `json:"providers,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// HostResult is the normalized outcome of one provider call. Exactly one
// of Entry / (ErrorKind, ErrorMessage) is meaningful depending on
// Success.
type HostResult struct {
	Provider        string        `json:"provider"`
	Success         bool          `json:"success"`
	Entry           *HostingEntry `json:"entry,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// AggregateOutcome collects the settled result of every targeted
// provider for one job. It is complete by construction: fan-out is
// fail-soft, so partial provider failure never drops a result.
type AggregateOutcome struct {
	Code           string                 `json:"code"`
	CorrelationID  string                 `json:"correlation_id"`
	Results        map[string]*HostResult `json:"results"`
	SuccessCount   int                    `json:"success_count"`
	FailureCount   int                    `json:"failure_count"`
	TotalDuration  time.Duration          `json:"-"`
	TotalDurationS float64                `json:"total_duration_seconds"`
}

// SuccessfulEntries returns the hosting entries from all successful
// provider calls, keyed by provider name.
func (o *AggregateOutcome) SuccessfulEntries() map[string]*HostingEntry {
	entries := make(map[string]*HostingEntry)
	for provider, res := range o.Results {
		if res.Success && res.Entry != nil {
			entries[provider] = res.Entry
		}
	}
	return entries
}
