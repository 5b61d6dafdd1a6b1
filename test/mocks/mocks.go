package mocks

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/identity"
	"github.com/simcorehq/admission/internal/core/domain/tier"
)

// UsageLedgerMock is a lightweight mock for UsageLedger
type UsageLedgerMock struct {
	CountSinceFn      func(ctx context.Context, identity, endpoint string, since time.Time) (int, error)
	RecordFn          func(ctx context.Context, rec *admission.UsageRecord) error
	DeleteOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *UsageLedgerMock) CountSince(ctx context.Context, identity, endpoint string, since time.Time) (int, error) {
	if m.CountSinceFn != nil {
		return m.CountSinceFn(ctx, identity, endpoint, since)
	}
	return 0, nil
}
func (m *UsageLedgerMock) Record(ctx context.Context, rec *admission.UsageRecord) error {
	if m.RecordFn != nil {
		return m.RecordFn(ctx, rec)
	}
	return nil
}
func (m *UsageLedgerMock) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFn != nil {
		return m.DeleteOlderThanFn(ctx, cutoff)
	}
	return 0, nil
}

// MemoryUsageLedger is an in-memory usage ledger with real window
// semantics, for exercising the limiter end to end without a database.
type MemoryUsageLedger struct {
	mu      sync.Mutex
	records []*admission.UsageRecord
}

func (l *MemoryUsageLedger) CountSince(ctx context.Context, identity, endpoint string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, r := range l.records {
		if r.Identity == identity && r.Endpoint == endpoint && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryUsageLedger) Record(ctx context.Context, rec *admission.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *MemoryUsageLedger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	var deleted int64
	for _, r := range l.records {
		if r.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return deleted, nil
}

// QuotaLedgerMock is a lightweight mock for QuotaLedger
type QuotaLedgerMock struct {
	IncrementIfBelowFn func(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (int, int, bool, error)
	CountersFn         func(ctx context.Context, identity string, periodStart time.Time) ([]*admission.QuotaCounter, error)
}

func (m *QuotaLedgerMock) IncrementIfBelow(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (int, int, bool, error) {
	if m.IncrementIfBelowFn != nil {
		return m.IncrementIfBelowFn(ctx, key, periodStart, limit, reseed)
	}
	return 1, limit, true, nil
}
func (m *QuotaLedgerMock) Counters(ctx context.Context, identity string, periodStart time.Time) ([]*admission.QuotaCounter, error) {
	if m.CountersFn != nil {
		return m.CountersFn(ctx, identity, periodStart)
	}
	return nil, nil
}

// MemoryQuotaLedger implements the conditional increment with the same
// atomicity the Postgres row guard provides, so race tests can hammer it.
type MemoryQuotaLedger struct {
	mu       sync.Mutex
	counters map[string]*admission.QuotaCounter
}

func NewMemoryQuotaLedger() *MemoryQuotaLedger {
	return &MemoryQuotaLedger{counters: make(map[string]*admission.QuotaCounter)}
}

// Seed installs a counter mid-period, for scenarios that start partway
// through a quota.
func (l *MemoryQuotaLedger) Seed(key admission.QuotaKey, periodStart time.Time, count, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters[l.key(key, periodStart)] = &admission.QuotaCounter{
		Identity:     key.Identity,
		Platform:     key.Platform,
		ResourceType: key.ResourceType,
		PeriodStart:  periodStart,
		Count:        count,
		MaxCount:     max,
	}
}

func (l *MemoryQuotaLedger) key(key admission.QuotaKey, periodStart time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s", key.Identity, key.Platform, key.ResourceType, periodStart.Format("2006-01"))
}

func (l *MemoryQuotaLedger) IncrementIfBelow(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (int, int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.key(key, periodStart)
	c, ok := l.counters[k]
	if !ok {
		c = &admission.QuotaCounter{
			Identity:     key.Identity,
			Platform:     key.Platform,
			ResourceType: key.ResourceType,
			PeriodStart:  periodStart,
			Count:        0,
			MaxCount:     limit,
		}
		l.counters[k] = c
	}
	if reseed {
		// Downgrades clamp to the consumed count, matching the Postgres
		// re-seed and its count <= max_count constraint.
		c.MaxCount = limit
		if c.Count > c.MaxCount {
			c.MaxCount = c.Count
		}
	}
	if c.Count >= c.MaxCount {
		return c.Count, c.MaxCount, false, nil
	}
	c.Count++
	return c.Count, c.MaxCount, true, nil
}

func (l *MemoryQuotaLedger) Counters(ctx context.Context, identity string, periodStart time.Time) ([]*admission.QuotaCounter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*admission.QuotaCounter
	for _, c := range l.counters {
		if c.Identity == identity && c.PeriodStart.Equal(periodStart) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Count reads the persisted count for assertions.
func (l *MemoryQuotaLedger) Count(key admission.QuotaKey, periodStart time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.counters[l.key(key, periodStart)]; ok {
		return c.Count
	}
	return 0
}

// RateLimiterServiceMock is a lightweight mock for RateLimiterService
type RateLimiterServiceMock struct {
	CheckFn func(ctx context.Context, identity, endpoint string, t tier.Tier) (*admission.RateLimitDecision, error)
}

func (m *RateLimiterServiceMock) Check(ctx context.Context, identity, endpoint string, t tier.Tier) (*admission.RateLimitDecision, error) {
	if m.CheckFn != nil {
		return m.CheckFn(ctx, identity, endpoint, t)
	}
	return &admission.RateLimitDecision{Allowed: true, Remaining: 1, Limit: 1}, nil
}

// QuotaServiceMock is a lightweight mock for QuotaService
type QuotaServiceMock struct {
	CheckAndIncrementFn func(ctx context.Context, identity, platform, resourceType string, t tier.Tier) (*admission.QuotaDecision, error)
	CountersFn          func(ctx context.Context, identity string) ([]*admission.QuotaCounter, error)
}

func (m *QuotaServiceMock) CheckAndIncrement(ctx context.Context, identity, platform, resourceType string, t tier.Tier) (*admission.QuotaDecision, error) {
	if m.CheckAndIncrementFn != nil {
		return m.CheckAndIncrementFn(ctx, identity, platform, resourceType, t)
	}
	return &admission.QuotaDecision{Allowed: true, Current: 1, Limit: 1}, nil
}
func (m *QuotaServiceMock) Counters(ctx context.Context, identity string) ([]*admission.QuotaCounter, error) {
	if m.CountersFn != nil {
		return m.CountersFn(ctx, identity)
	}
	return nil, nil
}

// AdmissionGatewayMock is a lightweight mock for AdmissionGateway
type AdmissionGatewayMock struct {
	CheckRateLimitFn         func(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error)
	CheckAndIncrementQuotaFn func(ctx context.Context, id *identity.Identity, platform, resourceType string) (*admission.QuotaDecision, error)
}

func (m *AdmissionGatewayMock) CheckRateLimit(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error) {
	if m.CheckRateLimitFn != nil {
		return m.CheckRateLimitFn(ctx, id, endpoint)
	}
	return &admission.RateLimitDecision{Allowed: true, Remaining: 1, Limit: 1}, nil
}
func (m *AdmissionGatewayMock) CheckAndIncrementQuota(ctx context.Context, id *identity.Identity, platform, resourceType string) (*admission.QuotaDecision, error) {
	if m.CheckAndIncrementQuotaFn != nil {
		return m.CheckAndIncrementQuotaFn(ctx, id, platform, resourceType)
	}
	return &admission.QuotaDecision{Allowed: true, Current: 1, Limit: 1}, nil
}

// IdentityResolverMock is a lightweight mock for IdentityResolver
type IdentityResolverMock struct {
	ResolveFn func(ctx context.Context, r *http.Request) (*identity.Identity, error)
}

func (m *IdentityResolverMock) Resolve(ctx context.Context, r *http.Request) (*identity.Identity, error) {
	if m.ResolveFn != nil {
		return m.ResolveFn(ctx, r)
	}
	return nil, fmt.Errorf("not resolved")
}

// APIKeyRepositoryMock is a lightweight mock for APIKeyRepository
type APIKeyRepositoryMock struct {
	GetByKeyIDFn    func(ctx context.Context, keyID string) (*identity.APIKey, error)
	TouchLastUsedFn func(ctx context.Context, id uuid.UUID) error
}

func (m *APIKeyRepositoryMock) GetByKeyID(ctx context.Context, keyID string) (*identity.APIKey, error) {
	if m.GetByKeyIDFn != nil {
		return m.GetByKeyIDFn(ctx, keyID)
	}
	return nil, fmt.Errorf("not found")
}
func (m *APIKeyRepositoryMock) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	if m.TouchLastUsedFn != nil {
		return m.TouchLastUsedFn(ctx, id)
	}
	return nil
}

// AlertServiceMock is a lightweight mock for AlertService
type AlertServiceMock struct {
	mu                sync.Mutex
	StoreFailureCalls int
	ExhaustedCalls    int
	QuotaStoreFailFn  func(ctx context.Context, identity, resourceType string, cause error) error
	QuotaExhaustedFn  func(ctx context.Context, identity, platform, resourceType string, limit int) error
}

func (m *AlertServiceMock) QuotaStoreFailure(ctx context.Context, identity, resourceType string, cause error) error {
	m.mu.Lock()
	m.StoreFailureCalls++
	m.mu.Unlock()
	if m.QuotaStoreFailFn != nil {
		return m.QuotaStoreFailFn(ctx, identity, resourceType, cause)
	}
	return nil
}
func (m *AlertServiceMock) QuotaExhausted(ctx context.Context, identity, platform, resourceType string, limit int) error {
	m.mu.Lock()
	m.ExhaustedCalls++
	m.mu.Unlock()
	if m.QuotaExhaustedFn != nil {
		return m.QuotaExhaustedFn(ctx, identity, platform, resourceType, limit)
	}
	return nil
}

// Failures reads the store-failure call count under the lock.
func (m *AlertServiceMock) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StoreFailureCalls
}
