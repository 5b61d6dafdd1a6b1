package ports

import (
	"context"
	"time"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/tier"
)

// QuotaLedger stores monthly counters and exposes a single atomic
// conditional-increment primitive. The check and the increment must happen
// in one storage-level operation; two racing callers near the boundary
// must never both be admitted for the last unit.
type QuotaLedger interface {
	// IncrementIfBelow seeds the counter row for the period if absent
	// (count=0, max=limit), optionally re-seeds the stored limit when
	// reseed is true, then increments the count only if it is below the
	// stored limit. It returns the post-operation count and limit and
	// whether the increment was applied.
	IncrementIfBelow(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (current int, max int, allowed bool, err error)
	// Counters lists an identity's counters for the given period.
	Counters(ctx context.Context, identity string, periodStart time.Time) ([]*admission.QuotaCounter, error)
}

// QuotaService enforces monthly usage quotas for cost-bearing operations.
type QuotaService interface {
	// CheckAndIncrement consumes one unit of the (identity, platform,
	// resourceType) quota for the current period, deriving the limit from
	// the caller's tier. It must be called exactly once per logical
	// creation attempt, after the rate-limit check and before the
	// mutating business logic.
	CheckAndIncrement(ctx context.Context, identity, platform, resourceType string, t tier.Tier) (*admission.QuotaDecision, error)
	// Counters reports the identity's counters for the current period.
	Counters(ctx context.Context, identity string) ([]*admission.QuotaCounter, error)
}
