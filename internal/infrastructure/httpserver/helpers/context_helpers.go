package helpers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/simcorehq/admission/internal/core/domain/identity"
)

func GetIdentityFromContext(c echo.Context) (*identity.Identity, error) {
	id, ok := GetIdentity(c)
	if !ok || id == nil || id.ID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid identity context")
	}
	return id, nil
}
