package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/identity"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver/helpers"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver/middleware"
	"github.com/simcorehq/admission/test/mocks"
)

func newTestContext(t *testing.T) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/simulations", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(called *bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		*called = true
		return c.NoContent(http.StatusOK)
	}
}

func TestRateLimit_AdmittedRequestCarriesHeaders(t *testing.T) {
	gateway := &mocks.AdmissionGatewayMock{
		CheckRateLimitFn: func(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error) {
			require.Equal(t, "simcore-api", endpoint)
			require.Equal(t, "u1", id.ID)
			return &admission.RateLimitDecision{Allowed: true, Remaining: 9, Limit: 10, ResetAt: 1717243260}, nil
		},
	}
	mw := middleware.NewAdmissionMiddleware(gateway, "simcore-api", nil, nil)

	c, rec := newTestContext(t)
	helpers.SetIdentity(c, &identity.Identity{ID: "u1", Tier: tier.TierFree})

	called := false
	require.NoError(t, mw.RateLimit()(okHandler(&called))(c))
	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "1717243260", rec.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_DeniedRequestGets429(t *testing.T) {
	gateway := &mocks.AdmissionGatewayMock{
		CheckRateLimitFn: func(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error) {
			return &admission.RateLimitDecision{Allowed: false, Remaining: 0, Limit: 10, ResetAt: 1717243260, RetryAfterSeconds: 60}, nil
		},
	}
	mw := middleware.NewAdmissionMiddleware(gateway, "simcore-api", nil, nil)

	c, rec := newTestContext(t)
	helpers.SetIdentity(c, &identity.Identity{ID: "u1", Tier: tier.TierFree})

	called := false
	require.NoError(t, mw.RateLimit()(okHandler(&called))(c))
	require.False(t, called, "a denied request must never reach the handler")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body middleware.RateLimitErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Rate limit exceeded", body.Error)
	require.Equal(t, 60, body.RetryAfter)
	require.NotEmpty(t, body.Message)
}

func TestRateLimit_MissingIdentityIs401(t *testing.T) {
	mw := middleware.NewAdmissionMiddleware(&mocks.AdmissionGatewayMock{}, "simcore-api", nil, nil)

	c, _ := newTestContext(t)

	err := mw.RateLimit()(okHandler(new(bool)))(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRateLimit_GatewayFailureIs500(t *testing.T) {
	gateway := &mocks.AdmissionGatewayMock{
		CheckRateLimitFn: func(ctx context.Context, id *identity.Identity, endpoint string) (*admission.RateLimitDecision, error) {
			return nil, errors.New("gateway wiring broken")
		},
	}
	mw := middleware.NewAdmissionMiddleware(gateway, "simcore-api", nil, nil)

	c, _ := newTestContext(t)
	helpers.SetIdentity(c, &identity.Identity{ID: "u1", Tier: tier.TierFree})

	err := mw.RateLimit()(okHandler(new(bool)))(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusInternalServerError, httpErr.Code)
}

func TestRequireIdentity_SetsIdentityInContext(t *testing.T) {
	resolver := &mocks.IdentityResolverMock{
		ResolveFn: func(ctx context.Context, r *http.Request) (*identity.Identity, error) {
			return &identity.Identity{ID: "u1", Tier: tier.TierPro}, nil
		},
	}
	mw := middleware.NewAuthMiddleware(resolver, nil)

	c, rec := newTestContext(t)
	handler := func(c echo.Context) error {
		id, ok := helpers.GetIdentity(c)
		require.True(t, ok)
		require.Equal(t, "u1", id.ID)
		require.Equal(t, tier.TierPro, id.Tier)
		return c.NoContent(http.StatusOK)
	}
	require.NoError(t, mw.RequireIdentity()(handler)(c))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireIdentity_UnresolvedIs401(t *testing.T) {
	resolver := &mocks.IdentityResolverMock{
		ResolveFn: func(ctx context.Context, r *http.Request) (*identity.Identity, error) {
			return nil, admission.ErrUnauthenticated
		},
	}
	mw := middleware.NewAuthMiddleware(resolver, nil)

	c, _ := newTestContext(t)
	called := false
	err := mw.RequireIdentity()(okHandler(&called))(c)
	require.False(t, called)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
