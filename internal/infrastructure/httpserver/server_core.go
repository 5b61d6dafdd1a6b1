package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/internal/core/ports"
	customMiddleware "github.com/simcorehq/admission/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	// Endpoint is the logical route name the rate limiter partitions on.
	Endpoint string
	// Platform is the platform key quota counters are scoped to.
	Platform string
}

type ServerDeps struct {
	IdentityResolver ports.IdentityResolver
	Admission        ports.AdmissionGateway
	QuotaService     ports.QuotaService
	Registry         *tier.Registry
	HealthCheckers   []ports.HealthChecker
}

type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	admission      ports.AdmissionGateway
	quotaSvc       ports.QuotaService
	registry       *tier.Registry
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	e := echo.New()

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		admission:      deps.Admission,
		quotaSvc:       deps.QuotaService,
		registry:       deps.Registry,
		healthCheckers: deps.HealthCheckers,
		middleware: customMiddleware.NewMiddlewareCollection(
			deps.IdentityResolver,
			deps.Admission,
			serverConfig.Endpoint,
			logger,
			GetRequestsTotal(),
			GetRequestDuration(),
			GetAdmissionDecisions(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}
