package models

import "time"

// QuarantineEntry marks a code that has no successful hosting entry yet.
// Entries leave quarantine only through reconciliation against the
// catalog, never because an upload claimed success.
type QuarantineEntry struct {
	Code          string    `json:"code"`
	LastError     string    `json:"last_error,omitempty"`
	RetryCount    int       `json:"retry_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}
