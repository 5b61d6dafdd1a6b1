package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver/helpers"
)

// QuotaErrorBody is the machine-parseable 403 payload for quota
// rejections.
type QuotaErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
}

type createResourceResponse struct {
	ID           uuid.UUID           `json:"id"`
	ResourceType string              `json:"resource_type"`
	CreatedAt    time.Time           `json:"created_at"`
	Quota        createResourceQuota `json:"quota"`
}

type createResourceQuota struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
}

func (s *Server) createSimulation(c echo.Context) error {
	return s.createResource(c, "simulation")
}

func (s *Server) createWorkflow(c echo.Context) error {
	return s.createResource(c, "workflow")
}

// createResource runs the quota step of the admission chain and then the
// (stubbed) creation itself. The quota check happens exactly once per
// creation attempt, after the rate-limit middleware admitted the request.
func (s *Server) createResource(c echo.Context, resourceType string) error {
	id, err := helpers.GetIdentityFromContext(c)
	if err != nil {
		return err
	}

	decision, err := s.admission.CheckAndIncrementQuota(c.Request().Context(), id, s.config.Platform, resourceType)
	if err != nil {
		var unavailable *admission.StoreUnavailableError
		if errors.As(err, &unavailable) {
			// Fail-closed resource type during a store outage: retryable.
			return echo.NewHTTPError(http.StatusServiceUnavailable, "quota check unavailable, retry later")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "quota check failed")
	}

	if !decision.Allowed {
		GetAdmissionDecisions().WithLabelValues("quota", "denied").Inc()
		denial := &admission.QuotaExceededError{Current: decision.Current, Limit: decision.Limit}
		s.logger.WithFields(logrus.Fields{
			"identity":      id.ID,
			"resource_type": resourceType,
		}).WithError(denial).Info("resource creation denied")
		return c.JSON(http.StatusForbidden, QuotaErrorBody{
			Error:   "Usage limit exceeded",
			Message: fmt.Sprintf("monthly %s limit reached (%d/%d)", resourceType, decision.Current, decision.Limit),
			Current: decision.Current,
			Limit:   decision.Limit,
		})
	}
	GetAdmissionDecisions().WithLabelValues("quota", "allowed").Inc()

	// Business logic lives downstream of admission; here it is a stub
	// that mints the resource id.
	return c.JSON(http.StatusCreated, createResourceResponse{
		ID:           uuid.New(),
		ResourceType: resourceType,
		CreatedAt:    time.Now().UTC(),
		Quota:        createResourceQuota{Current: decision.Current, Limit: decision.Limit},
	})
}
