package helpers

import (
	"github.com/labstack/echo/v4"

	"github.com/simcorehq/admission/internal/core/domain/identity"
)

type ctxKey string

const (
	keyIdentity ctxKey = "identity"
)

func SetIdentity(c echo.Context, id *identity.Identity) { c.Set(string(keyIdentity), id) }

func GetIdentity(c echo.Context) (*identity.Identity, bool) {
	v := c.Get(string(keyIdentity))
	id, ok := v.(*identity.Identity)
	return id, ok
}
