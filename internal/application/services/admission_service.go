package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/identity"
	"github.com/simcorehq/admission/internal/core/ports"
)

// AdmissionService composes the rate limiter and the quota enforcer into
// the per-request gateway handlers invoke. It holds no state of its own.
type AdmissionService struct {
	rateLimiter ports.RateLimiterService
	quota       ports.QuotaService
	logger      *logrus.Logger
}

func NewAdmissionService(rateLimiter ports.RateLimiterService, quota ports.QuotaService, logger *logrus.Logger) *AdmissionService {
	return &AdmissionService{rateLimiter: rateLimiter, quota: quota, logger: logger}
}

func (s *AdmissionService) CheckRateLimit(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error) {
	if id == nil {
		return nil, admission.ErrUnauthenticated
	}
	return s.rateLimiter.Check(ctx, id.ID, endpoint, id.Tier)
}

func (s *AdmissionService) CheckAndIncrementQuota(ctx context.Context, id *identity.Identity, platform, resourceType string) (*admission.QuotaDecision, error) {
	if id == nil {
		return nil, admission.ErrUnauthenticated
	}
	return s.quota.CheckAndIncrement(ctx, id.ID, platform, resourceType, id.Tier)
}
