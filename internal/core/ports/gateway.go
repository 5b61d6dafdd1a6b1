package ports

import (
	"context"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/identity"
)

// AdmissionGateway is the per-request orchestration a handler invokes
// before doing work: rate-limit check for every call, atomic quota
// check-and-increment for quota-bearing operations. It holds no state of
// its own.
type AdmissionGateway interface {
	CheckRateLimit(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error)
	CheckAndIncrementQuota(ctx context.Context, id *identity.Identity, platform, resourceType string) (*admission.QuotaDecision, error)
}
