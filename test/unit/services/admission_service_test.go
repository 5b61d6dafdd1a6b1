package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	impl "github.com/simcorehq/admission/internal/application/services"
	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/identity"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/test/mocks"
)

func TestAdmission_RejectsMissingIdentity(t *testing.T) {
	svc := impl.NewAdmissionService(&mocks.RateLimiterServiceMock{}, &mocks.QuotaServiceMock{}, nil)

	_, err := svc.CheckRateLimit(context.Background(), nil, "simcore-api")
	require.ErrorIs(t, err, admission.ErrUnauthenticated)

	_, err = svc.CheckAndIncrementQuota(context.Background(), nil, "simcore", "simulation")
	require.ErrorIs(t, err, admission.ErrUnauthenticated)
}

func TestAdmission_ForwardsCallerIdentityAndTier(t *testing.T) {
	caller := &identity.Identity{ID: "u1", Tier: tier.TierPro}

	rl := &mocks.RateLimiterServiceMock{
		CheckFn: func(ctx context.Context, id, endpoint string, tr tier.Tier) (*admission.RateLimitDecision, error) {
			require.Equal(t, "u1", id)
			require.Equal(t, "simcore-api", endpoint)
			require.Equal(t, tier.TierPro, tr)
			return &admission.RateLimitDecision{Allowed: true, Remaining: 59, Limit: 60}, nil
		},
	}
	quota := &mocks.QuotaServiceMock{
		CheckAndIncrementFn: func(ctx context.Context, id, platform, resourceType string, tr tier.Tier) (*admission.QuotaDecision, error) {
			require.Equal(t, "u1", id)
			require.Equal(t, "simcore", platform)
			require.Equal(t, "simulation", resourceType)
			require.Equal(t, tier.TierPro, tr)
			return &admission.QuotaDecision{Allowed: true, Current: 1, Limit: 100}, nil
		},
	}
	svc := impl.NewAdmissionService(rl, quota, nil)

	rd, err := svc.CheckRateLimit(context.Background(), caller, "simcore-api")
	require.NoError(t, err)
	require.True(t, rd.Allowed)
	require.Equal(t, 60, rd.Limit)

	qd, err := svc.CheckAndIncrementQuota(context.Background(), caller, "simcore", "simulation")
	require.NoError(t, err)
	require.True(t, qd.Allowed)
	require.Equal(t, 100, qd.Limit)
}

func TestAdmission_PropagatesDownstreamErrors(t *testing.T) {
	caller := &identity.Identity{ID: "u1", Tier: tier.TierFree}
	boom := errors.New("store down")

	svc := impl.NewAdmissionService(
		&mocks.RateLimiterServiceMock{
			CheckFn: func(ctx context.Context, id, endpoint string, tr tier.Tier) (*admission.RateLimitDecision, error) {
				return nil, boom
			},
		},
		&mocks.QuotaServiceMock{
			CheckAndIncrementFn: func(ctx context.Context, id, platform, resourceType string, tr tier.Tier) (*admission.QuotaDecision, error) {
				return nil, &admission.StoreUnavailableError{Op: "quota increment", Err: boom}
			},
		},
		nil,
	)

	_, err := svc.CheckRateLimit(context.Background(), caller, "simcore-api")
	require.ErrorIs(t, err, boom)

	_, err = svc.CheckAndIncrementQuota(context.Background(), caller, "simcore", "simulation")
	var unavailable *admission.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
}
