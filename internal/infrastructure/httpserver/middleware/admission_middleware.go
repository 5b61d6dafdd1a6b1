package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/ports"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver/helpers"
)

// RateLimitErrorBody is the machine-parseable 429 payload. Client SDKs
// branch on it.
type RateLimitErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

type AdmissionMiddleware struct {
	gateway   ports.AdmissionGateway
	endpoint  string
	decisions *prometheus.CounterVec
	logger    *logrus.Logger
}

func NewAdmissionMiddleware(gateway ports.AdmissionGateway, endpoint string, decisions *prometheus.CounterVec, logger *logrus.Logger) *AdmissionMiddleware {
	return &AdmissionMiddleware{gateway: gateway, endpoint: endpoint, decisions: decisions, logger: logger}
}

// RateLimit runs the sliding-window check for every protected request and
// stamps the standard rate-limit headers on admitted and denied responses
// alike. Denials short-circuit with 429 and a Retry-After header.
func (m *AdmissionMiddleware) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := helpers.GetIdentityFromContext(c)
			if err != nil {
				return err
			}

			decision, rlErr := m.gateway.CheckRateLimit(c.Request().Context(), id, m.endpoint)
			if rlErr != nil {
				if errors.Is(rlErr, admission.ErrInvalidIdentity) {
					// Programming error in the caller chain, not a client fault.
					if m.logger != nil {
						m.logger.WithError(rlErr).Error("admission: rate limit check called without identity")
					}
					return echo.NewHTTPError(http.StatusInternalServerError, "admission check failed")
				}
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"identity": id.ID}).WithError(rlErr).Error("admission: rate limit check failed")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "admission check failed")
			}

			setRateLimitHeaders(c, decision)

			if !decision.Allowed {
				m.count("rate_limit", "denied")
				if m.logger != nil {
					denial := &admission.RateLimitExceededError{RetryAfterSeconds: decision.RetryAfterSeconds}
					m.logger.WithFields(logrus.Fields{"identity": id.ID, "endpoint": m.endpoint}).WithError(denial).Info("request throttled")
				}
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", decision.RetryAfterSeconds))
				return c.JSON(http.StatusTooManyRequests, RateLimitErrorBody{
					Error:      "Rate limit exceeded",
					Message:    fmt.Sprintf("limit of %d requests per window reached, retry after %d seconds", decision.Limit, decision.RetryAfterSeconds),
					RetryAfter: decision.RetryAfterSeconds,
				})
			}

			m.count("rate_limit", "allowed")
			return next(c)
		}
	}
}

func (m *AdmissionMiddleware) count(kind, outcome string) {
	if m.decisions != nil {
		m.decisions.WithLabelValues(kind, outcome).Inc()
	}
}

func setRateLimitHeaders(c echo.Context, d *admission.RateLimitDecision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt))
}
