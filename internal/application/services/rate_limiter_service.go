package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/internal/core/ports"
)

// RateLimiterService implements the sliding-window rate limiter over the
// usage ledger: count the trailing window, admit while below the tier's
// per-minute limit, record the admitted request.
//
// The check and the insert are deliberately not atomic. Slight
// over-admission at the window boundary only smooths load; it has no cost
// meaning, unlike the monthly quota. The ledger being unreachable fails
// open for the same reason: availability of the product outranks
// correctness of the minute counter.
type RateLimiterService struct {
	ledger       ports.UsageLedger
	registry     *tier.Registry
	window       time.Duration
	queryTimeout time.Duration
	now          func() time.Time
	logger       *logrus.Logger
}

// RateLimiterConfig groups configuration parameters for the rate limiter.
type RateLimiterConfig struct {
	Window       time.Duration
	QueryTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func NewRateLimiterService(ledger ports.UsageLedger, registry *tier.Registry, cfg *RateLimiterConfig, logger *logrus.Logger) *RateLimiterService {
	// Apply defaults
	w := time.Minute
	qt := 2 * time.Second
	now := time.Now
	if cfg != nil {
		if cfg.Window > 0 {
			w = cfg.Window
		}
		if cfg.QueryTimeout > 0 {
			qt = cfg.QueryTimeout
		}
		if cfg.Now != nil {
			now = cfg.Now
		}
	}
	return &RateLimiterService{ledger: ledger, registry: registry, window: w, queryTimeout: qt, now: now, logger: logger}
}

// Check counts the trailing window for (identity, endpoint) and admits the
// request while the count is below the tier's per-minute limit. A record
// created exactly at the window start still counts.
func (s *RateLimiterService) Check(ctx context.Context, identity, endpoint string, t tier.Tier) (*admission.RateLimitDecision, error) {
	if identity == "" {
		return nil, admission.ErrInvalidIdentity
	}

	limit := s.registry.LimitsFor(t).RequestsPerMinute
	now := s.now()
	windowStart := now.Add(-s.window)
	resetAt := now.Add(s.window).Unix()

	cctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	count, err := s.ledger.CountSince(cctx, identity, endpoint, windowStart)
	if err != nil {
		// Fail open: a counting-store outage must not take the API down.
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(err).Error("rate limiter: ledger count failed, failing open")
		}
		return &admission.RateLimitDecision{Allowed: true, Remaining: limit, Limit: limit, ResetAt: resetAt}, nil
	}

	if count >= limit {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint, "count": count, "limit": limit}).Debug("rate limiter: window full")
		}
		return &admission.RateLimitDecision{
			Allowed:           false,
			Remaining:         0,
			Limit:             limit,
			ResetAt:           resetAt,
			RetryAfterSeconds: int(s.window / time.Second),
		}, nil
	}

	rec := &admission.UsageRecord{ID: uuid.New(), Identity: identity, Endpoint: endpoint, CreatedAt: now}
	if err := s.ledger.Record(cctx, rec); err != nil {
		// The request stays admitted; only this slot goes uncounted.
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(err).Warn("rate limiter: failed to record admitted request")
		}
	}

	s.reapAsync(now)

	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return &admission.RateLimitDecision{Allowed: true, Remaining: remaining, Limit: limit, ResetAt: resetAt}, nil
}

// reapAsync opportunistically deletes rows older than twice the window.
// The outcome is ignored; the periodic reaper covers anything missed.
func (s *RateLimiterService) reapAsync(now time.Time) {
	cutoff := now.Add(-2 * s.window)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
		defer cancel()
		if _, err := s.ledger.DeleteOlderThan(ctx, cutoff); err != nil && s.logger != nil {
			s.logger.WithError(err).Debug("rate limiter: opportunistic reap failed")
		}
	}()
}
