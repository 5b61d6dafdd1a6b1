package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver/helpers"
)

type usageResponse struct {
	Identity string                    `json:"identity"`
	Tier     string                    `json:"tier"`
	Limits   usageLimits               `json:"limits"`
	Quotas   []*admission.QuotaCounter `json:"quotas"`
}

type usageLimits struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day"`
}

// getUsage reports the caller's tier limits and the quota counters open in
// the current period. Read-only; the rate-limit headers on the response
// already carry the window state.
func (s *Server) getUsage(c echo.Context) error {
	id, err := helpers.GetIdentityFromContext(c)
	if err != nil {
		return err
	}

	limits := s.registry.LimitsFor(id.Tier)
	counters, err := s.quotaSvc.Counters(c.Request().Context(), id.ID)
	if err != nil {
		var unavailable *admission.StoreUnavailableError
		if errors.As(err, &unavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "usage data temporarily unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load usage")
	}
	if counters == nil {
		counters = []*admission.QuotaCounter{}
	}

	return c.JSON(http.StatusOK, usageResponse{
		Identity: id.ID,
		Tier:     string(id.Tier),
		Limits: usageLimits{
			RequestsPerMinute: limits.RequestsPerMinute,
			RequestsPerHour:   limits.RequestsPerHour,
			RequestsPerDay:    limits.RequestsPerDay,
		},
		Quotas: counters,
	})
}
