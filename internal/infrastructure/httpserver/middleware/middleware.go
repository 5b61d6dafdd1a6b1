package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/ports"
)

// MiddlewareCollection holds all middleware instances
type MiddlewareCollection struct {
	Auth      *AuthMiddleware
	Admission *AdmissionMiddleware
	Logging   *LoggingMiddleware
	Metrics   *MetricsMiddleware
}

// NewMiddlewareCollection creates a new collection of all middleware
func NewMiddlewareCollection(
	resolver ports.IdentityResolver,
	gateway ports.AdmissionGateway,
	endpoint string,
	logger *logrus.Logger,
	requestsTotal *prometheus.CounterVec,
	requestDuration *prometheus.HistogramVec,
	admissionDecisions *prometheus.CounterVec,
) *MiddlewareCollection {
	return &MiddlewareCollection{
		Auth:      NewAuthMiddleware(resolver, logger),
		Admission: NewAdmissionMiddleware(gateway, endpoint, admissionDecisions, logger),
		Logging:   NewLoggingMiddleware(logger),
		Metrics:   NewMetricsMiddleware(requestsTotal, requestDuration),
	}
}
