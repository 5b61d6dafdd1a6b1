package ports

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/simcorehq/admission/internal/core/domain/identity"
)

// IdentityResolver turns an inbound request into an already-resolved
// identity with its tier. Resolution failures surface as
// admission.ErrUnauthenticated; the gateway never sees a request without
// an identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*identity.Identity, error)
}

// APIKeyRepository provides lookup of machine credentials by public key id.
type APIKeyRepository interface {
	GetByKeyID(ctx context.Context, keyID string) (*identity.APIKey, error)
	// TouchLastUsed stamps the key's last use. Best-effort.
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}
