package admission

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one row per admitted request. Rows are append-only and die
// once they fall out of the retention window.
type UsageRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Identity  string    `json:"identity" db:"identity"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RateLimitDecision is the ephemeral result of a sliding-window check.
// It is never persisted; handlers translate it into response headers.
type RateLimitDecision struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	ResetAt   int64 `json:"reset_at"`
	// RetryAfterSeconds is set only on denial. The sliding window has no
	// bucket boundary to point at, so the full window is reported.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// QuotaKey identifies one monthly counter.
type QuotaKey struct {
	Identity     string
	Platform     string
	ResourceType string
}

// QuotaCounter is one row per (identity, platform, resource type, period).
// Only Count mutates within a period, and only through the ledger's atomic
// conditional increment.
type QuotaCounter struct {
	Identity     string    `json:"identity" db:"identity"`
	Platform     string    `json:"platform" db:"platform"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	PeriodStart  time.Time `json:"period_start" db:"period_start"`
	Count        int       `json:"count" db:"count"`
	MaxCount     int       `json:"max_count" db:"max_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// QuotaDecision is the result of an atomic check-and-increment.
type QuotaDecision struct {
	Allowed bool `json:"allowed"`
	Current int  `json:"current"`
	Limit   int  `json:"limit"`
}

// PeriodStart truncates a time to the first instant of its UTC calendar
// month, the boundary on which quota counters roll over.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
