package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/configs"
	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/internal/core/ports"
)

// QuotaService enforces monthly resource quotas. Unlike the minute
// limiter it must be race-free: quota exhaustion has monetary meaning, so
// the check and the increment happen in one atomic ledger operation and
// the store-failure policy is an explicit, per-resource-type choice.
type QuotaService struct {
	ledger       ports.QuotaLedger
	registry     *tier.Registry
	alerts       ports.AlertService
	tierChange   string
	failOpen     map[string]bool
	queryTimeout time.Duration
	now          func() time.Time
	logger       *logrus.Logger
}

// QuotaServiceConfig groups configuration parameters for the enforcer.
type QuotaServiceConfig struct {
	// TierChange: configs.TierChangeImmediate re-seeds an open period's
	// limit from the caller's current tier on every check;
	// configs.TierChangeNextPeriod keeps the seeded limit until rollover.
	TierChange string
	// FailOpenResources permit the request when the quota store errors.
	// Resource types not listed fail closed with a retryable error.
	FailOpenResources []string
	QueryTimeout      time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func NewQuotaService(ledger ports.QuotaLedger, registry *tier.Registry, alerts ports.AlertService, cfg *QuotaServiceConfig, logger *logrus.Logger) *QuotaService {
	tc := configs.TierChangeNextPeriod
	qt := 3 * time.Second
	now := time.Now
	failOpen := make(map[string]bool)
	if cfg != nil {
		if cfg.TierChange != "" {
			tc = cfg.TierChange
		}
		if cfg.QueryTimeout > 0 {
			qt = cfg.QueryTimeout
		}
		if cfg.Now != nil {
			now = cfg.Now
		}
		for _, r := range cfg.FailOpenResources {
			failOpen[r] = true
		}
	}
	return &QuotaService{
		ledger:       ledger,
		registry:     registry,
		alerts:       alerts,
		tierChange:   tc,
		failOpen:     failOpen,
		queryTimeout: qt,
		now:          now,
		logger:       logger,
	}
}

// CheckAndIncrement atomically consumes one unit of the identity's monthly
// quota for the resource type. The limit is derived from the caller's
// current tier at period seeding; whether a later tier change re-seeds an
// open period is governed by the TierChange policy.
func (s *QuotaService) CheckAndIncrement(ctx context.Context, identity, platform, resourceType string, t tier.Tier) (*admission.QuotaDecision, error) {
	if identity == "" {
		return nil, admission.ErrInvalidIdentity
	}

	limit := s.registry.QuotaFor(t, resourceType)
	key := admission.QuotaKey{Identity: identity, Platform: platform, ResourceType: resourceType}
	period := admission.PeriodStart(s.now())
	reseed := s.tierChange == configs.TierChangeImmediate

	cctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	current, max, allowed, err := s.ledger.IncrementIfBelow(cctx, key, period, limit, reseed)
	if err != nil {
		if !s.failOpen[resourceType] {
			return nil, &admission.StoreUnavailableError{Op: "quota increment", Err: err}
		}
		// Fail open by configuration: permit, log, and alert. The unit is
		// not counted, which is the accepted exposure of this policy.
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity": identity, "platform": platform, "resource_type": resourceType}).WithError(err).Error("quota: store unavailable, failing open")
		}
		s.alertAsync(func(ctx context.Context) error {
			return s.alerts.QuotaStoreFailure(ctx, identity, resourceType, err)
		})
		return &admission.QuotaDecision{Allowed: true, Current: 0, Limit: limit}, nil
	}

	if !allowed {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity": identity, "platform": platform, "resource_type": resourceType, "current": current, "limit": max}).Info("quota: limit reached")
		}
		s.alertAsync(func(ctx context.Context) error {
			return s.alerts.QuotaExhausted(ctx, identity, platform, resourceType, max)
		})
		return &admission.QuotaDecision{Allowed: false, Current: current, Limit: max}, nil
	}

	return &admission.QuotaDecision{Allowed: true, Current: current, Limit: max}, nil
}

// Counters reports the identity's counters for the current period.
func (s *QuotaService) Counters(ctx context.Context, identity string) ([]*admission.QuotaCounter, error) {
	if identity == "" {
		return nil, admission.ErrInvalidIdentity
	}
	cctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	counters, err := s.ledger.Counters(cctx, identity, admission.PeriodStart(s.now()))
	if err != nil {
		return nil, &admission.StoreUnavailableError{Op: "quota counters", Err: err}
	}
	return counters, nil
}

func (s *QuotaService) alertAsync(fn func(ctx context.Context) error) {
	if s.alerts == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil && s.logger != nil {
			s.logger.WithError(err).Warn("quota: alert delivery failed")
		}
	}()
}
