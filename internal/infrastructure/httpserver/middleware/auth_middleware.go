package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/ports"
	"github.com/simcorehq/admission/internal/infrastructure/httpserver/helpers"
)

type AuthMiddleware struct {
	resolver ports.IdentityResolver
	logger   *logrus.Logger
}

func NewAuthMiddleware(resolver ports.IdentityResolver, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver, logger: logger}
}

// RequireIdentity resolves the caller from the request credentials and
// places it in the request context. Requests without a resolvable identity
// never reach the admission layer.
func (m *AuthMiddleware) RequireIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := m.resolver.Resolve(c.Request().Context(), c.Request())
			if err != nil {
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"ip": c.RealIP(), "path": c.Request().URL.Path}).WithError(err).Warn("identity resolution failed")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}
			helpers.SetIdentity(c, id)
			return next(c)
		}
	}
}
