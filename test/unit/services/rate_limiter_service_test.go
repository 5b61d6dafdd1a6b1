package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	impl "github.com/simcorehq/admission/internal/application/services"
	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/test/mocks"
)

func testRegistry() *tier.Registry {
	return tier.NewRegistry(map[tier.Tier]tier.Limits{
		tier.TierFree: {
			RequestsPerMinute: 10,
			MonthlyQuotas:     map[string]int{"simulation": 5},
		},
		tier.TierPro: {
			RequestsPerMinute: 60,
			MonthlyQuotas:     map[string]int{"simulation": 100},
		},
	})
}

func TestCheck_FreeTierWindowScenario(t *testing.T) {
	ledger := &mocks.MemoryUsageLedger{}
	current := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	svc := impl.NewRateLimiterService(ledger, testRegistry(), &impl.RateLimiterConfig{
		Window: time.Minute,
		Now:    func() time.Time { return current },
	}, nil)

	// 10 requests within 5 seconds are all admitted; the 10th exhausts
	// the window.
	for i := 0; i < 10; i++ {
		d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		require.Equal(t, 10, d.Limit)
		require.Equal(t, 10-i-1, d.Remaining)
		current = current.Add(500 * time.Millisecond)
	}

	// The 11th inside the same window is rejected with the full window as
	// the conservative retry hint.
	d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 60, d.RetryAfterSeconds)
	require.Greater(t, d.ResetAt, int64(0))

	// After the window slides past the burst, the pair is admitted again.
	current = current.Add(61 * time.Second)
	d, err = svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestCheck_PartitionsByIdentityAndEndpoint(t *testing.T) {
	ledger := &mocks.MemoryUsageLedger{}
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	svc := impl.NewRateLimiterService(ledger, testRegistry(), &impl.RateLimiterConfig{
		Now: func() time.Time { return now },
	}, nil)

	for i := 0; i < 10; i++ {
		d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// A different identity and a different endpoint are unaffected.
	d, err = svc.Check(context.Background(), "u2", "simcore-api", tier.TierFree)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = svc.Check(context.Background(), "u1", "batch-api", tier.TierFree)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestCheck_WindowBoundaryIsInclusive(t *testing.T) {
	ledger := &mocks.MemoryUsageLedger{}
	now := time.Date(2024, 5, 15, 12, 1, 0, 0, time.UTC)
	registry := tier.NewRegistry(map[tier.Tier]tier.Limits{
		tier.TierFree: {RequestsPerMinute: 1},
	})
	svc := impl.NewRateLimiterService(ledger, registry, &impl.RateLimiterConfig{
		Window: time.Minute,
		Now:    func() time.Time { return now },
	}, nil)

	// A record created exactly at windowStart still counts.
	require.NoError(t, ledger.Record(context.Background(), &admission.UsageRecord{
		ID: uuid.New(), Identity: "u1", Endpoint: "simcore-api", CreatedAt: now.Add(-time.Minute),
	}))

	d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestCheck_UnknownTierClampsToFree(t *testing.T) {
	ledger := &mocks.MemoryUsageLedger{}
	svc := impl.NewRateLimiterService(ledger, testRegistry(), nil, nil)

	d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.Tier("ultra"))
	require.NoError(t, err)
	require.Equal(t, 10, d.Limit, "unknown tier should get the free tier's limit")
}

func TestCheck_FailsOpenWhenLedgerUnavailable(t *testing.T) {
	ledger := &mocks.UsageLedgerMock{
		CountSinceFn: func(ctx context.Context, identity, endpoint string, since time.Time) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	svc := impl.NewRateLimiterService(ledger, testRegistry(), nil, nil)

	d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
	require.NoError(t, err, "a store outage must not surface as an error")
	require.True(t, d.Allowed)
	require.Equal(t, 10, d.Remaining, "fail-open reports the full limit remaining")
}

func TestCheck_RecordFailureStillAdmits(t *testing.T) {
	ledger := &mocks.UsageLedgerMock{
		RecordFn: func(ctx context.Context, rec *admission.UsageRecord) error {
			return errors.New("write failed")
		},
	}
	svc := impl.NewRateLimiterService(ledger, testRegistry(), nil, nil)

	d, err := svc.Check(context.Background(), "u1", "simcore-api", tier.TierFree)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestCheck_EmptyIdentityIsAHardFailure(t *testing.T) {
	svc := impl.NewRateLimiterService(&mocks.MemoryUsageLedger{}, testRegistry(), nil, nil)

	_, err := svc.Check(context.Background(), "", "simcore-api", tier.TierFree)
	require.ErrorIs(t, err, admission.ErrInvalidIdentity)
}
