package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simcorehq/admission/configs"
	impl "github.com/simcorehq/admission/internal/application/services"
	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/test/mocks"
)

var mayNoon = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return mayNoon }

func newQuotaService(ledger *mocks.MemoryQuotaLedger, alerts *mocks.AlertServiceMock, cfg *impl.QuotaServiceConfig) *impl.QuotaService {
	if cfg == nil {
		cfg = &impl.QuotaServiceConfig{}
	}
	if cfg.Now == nil {
		cfg.Now = fixedNow
	}
	return impl.NewQuotaService(ledger, testRegistry(), alerts, cfg, nil)
}

func TestCheckAndIncrement_RaceForLastUnit(t *testing.T) {
	ledger := mocks.NewMemoryQuotaLedger()
	key := admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}
	period := admission.PeriodStart(mayNoon)
	ledger.Seed(key, period, 4, 5)

	svc := newQuotaService(ledger, &mocks.AlertServiceMock{}, nil)

	var wg sync.WaitGroup
	decisions := make([]*admission.QuotaDecision, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierFree)
		}(i)
	}
	wg.Wait()

	allowed := 0
	for i, d := range decisions {
		require.NoError(t, errs[i])
		require.Equal(t, 5, d.Limit)
		require.Equal(t, 5, d.Current)
		if d.Allowed {
			allowed++
		}
	}
	require.Equal(t, 1, allowed, "exactly one racer gets the last unit")
	require.Equal(t, 5, ledger.Count(key, period))
}

func TestCheckAndIncrement_NeverPersistsAboveLimit(t *testing.T) {
	ledger := mocks.NewMemoryQuotaLedger()
	key := admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}
	period := admission.PeriodStart(mayNoon)

	svc := newQuotaService(ledger, &mocks.AlertServiceMock{}, nil)

	const attempts = 25 // free tier allows 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierFree)
			if err != nil {
				errs[i] = err
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 5, allowed)
	require.Equal(t, 5, ledger.Count(key, period), "persisted count must never exceed the limit")
}

func TestCheckAndIncrement_PeriodRolloverSeedsFreshCounter(t *testing.T) {
	ledger := mocks.NewMemoryQuotaLedger()
	key := admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}
	ledger.Seed(key, admission.PeriodStart(mayNoon), 5, 5)

	juneNoon := time.Date(2024, 6, 1, 0, 0, 1, 0, time.UTC)
	svc := newQuotaService(ledger, &mocks.AlertServiceMock{}, &impl.QuotaServiceConfig{
		Now: func() time.Time { return juneNoon },
	})

	d, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierFree)
	require.NoError(t, err)
	require.True(t, d.Allowed, "a new period starts from zero")
	require.Equal(t, 1, d.Current)
}

func TestCheckAndIncrement_TierChangePolicies(t *testing.T) {
	key := admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}
	period := admission.PeriodStart(mayNoon)

	// nextPeriod: the limit seeded with the old tier holds.
	ledger := mocks.NewMemoryQuotaLedger()
	ledger.Seed(key, period, 0, 5)
	svc := newQuotaService(ledger, &mocks.AlertServiceMock{}, &impl.QuotaServiceConfig{
		TierChange: configs.TierChangeNextPeriod,
		Now:        fixedNow,
	})
	d, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierPro)
	require.NoError(t, err)
	require.Equal(t, 5, d.Limit, "nextPeriod keeps the seeded limit until rollover")

	// immediate: the open period follows the caller's current tier.
	ledger = mocks.NewMemoryQuotaLedger()
	ledger.Seed(key, period, 0, 5)
	svc = newQuotaService(ledger, &mocks.AlertServiceMock{}, &impl.QuotaServiceConfig{
		TierChange: configs.TierChangeImmediate,
		Now:        fixedNow,
	})
	d, err = svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierPro)
	require.NoError(t, err)
	require.Equal(t, 100, d.Limit, "immediate re-seeds from the current tier")
}

func TestCheckAndIncrement_ImmediateDowngradeBelowConsumption(t *testing.T) {
	key := admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}
	period := admission.PeriodStart(mayNoon)

	// 50 units consumed under the pro limit, then downgraded to free
	// (limit 5). The re-seed clamps the limit to the consumed count, so
	// the request is a plain quota denial, not a store error.
	ledger := mocks.NewMemoryQuotaLedger()
	ledger.Seed(key, period, 50, 100)
	svc := newQuotaService(ledger, &mocks.AlertServiceMock{}, &impl.QuotaServiceConfig{
		TierChange: configs.TierChangeImmediate,
		Now:        fixedNow,
	})

	d, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierFree)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 50, d.Current)
	require.Equal(t, 50, d.Limit)
	require.Equal(t, 50, ledger.Count(key, period), "a denied downgrade must not consume a unit")
}

func TestCheckAndIncrement_FailClosedByDefault(t *testing.T) {
	ledger := &mocks.QuotaLedgerMock{
		IncrementIfBelowFn: func(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (int, int, bool, error) {
			return 0, 0, false, errors.New("connection refused")
		},
	}
	svc := impl.NewQuotaService(ledger, testRegistry(), &mocks.AlertServiceMock{}, &impl.QuotaServiceConfig{Now: fixedNow}, nil)

	_, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierFree)
	var unavailable *admission.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable, "store failures surface as retryable errors by default")
}

func TestCheckAndIncrement_FailOpenPermitsAndAlerts(t *testing.T) {
	ledger := &mocks.QuotaLedgerMock{
		IncrementIfBelowFn: func(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (int, int, bool, error) {
			return 0, 0, false, errors.New("connection refused")
		},
	}
	alerts := &mocks.AlertServiceMock{}
	svc := impl.NewQuotaService(ledger, testRegistry(), alerts, &impl.QuotaServiceConfig{
		FailOpenResources: []string{"simulation"},
		Now:               fixedNow,
	}, nil)

	d, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "simulation", tier.TierFree)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// The alert is delivered off the request path.
	require.Eventually(t, func() bool { return alerts.Failures() == 1 }, time.Second, 10*time.Millisecond)
}

func TestCheckAndIncrement_EmptyIdentityIsAHardFailure(t *testing.T) {
	svc := newQuotaService(mocks.NewMemoryQuotaLedger(), &mocks.AlertServiceMock{}, nil)

	_, err := svc.CheckAndIncrement(context.Background(), "", "simcore", "simulation", tier.TierFree)
	require.ErrorIs(t, err, admission.ErrInvalidIdentity)
}

func TestCheckAndIncrement_UnconfiguredResourceIsDenied(t *testing.T) {
	svc := newQuotaService(mocks.NewMemoryQuotaLedger(), &mocks.AlertServiceMock{}, nil)

	d, err := svc.CheckAndIncrement(context.Background(), "u1", "simcore", "gpu-cluster", tier.TierFree)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Limit)
}

func TestCounters_ReportsCurrentPeriod(t *testing.T) {
	ledger := mocks.NewMemoryQuotaLedger()
	ledger.Seed(admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}, admission.PeriodStart(mayNoon), 3, 5)
	ledger.Seed(admission.QuotaKey{Identity: "u1", Platform: "simcore", ResourceType: "simulation"}, admission.PeriodStart(mayNoon.AddDate(0, -1, 0)), 5, 5)

	svc := newQuotaService(ledger, &mocks.AlertServiceMock{}, nil)

	counters, err := svc.Counters(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, counters, 1, "only the open period is reported")
	require.Equal(t, 3, counters[0].Count)
}
