package ports

import (
	"context"
	"time"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/tier"
)

// UsageLedger is the durable, shared store of timestamped request records
// keyed by (identity, endpoint). Implementations must be safe for
// concurrent use; the window boundary comparison is inclusive (>=).
type UsageLedger interface {
	// CountSince counts records for (identity, endpoint) created at or
	// after the given instant.
	CountSince(ctx context.Context, identity, endpoint string, since time.Time) (int, error)
	// Record appends one usage record.
	Record(ctx context.Context, rec *admission.UsageRecord) error
	// DeleteOlderThan removes records created before the cutoff and
	// returns how many were removed. Best-effort callers ignore the error.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimiterService decides whether one more request from an identity on
// an endpoint is admitted under its tier's sliding-window limit.
// Implementations fail open on ledger errors: an outage in the counting
// store must never render the whole API unusable.
type RateLimiterService interface {
	Check(ctx context.Context, identity, endpoint string, t tier.Tier) (*admission.RateLimitDecision, error)
}
