package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/simcorehq/admission/internal/core/domain/tier"
)

// Identity is the already-resolved caller of a request: an opaque id plus
// the subscription tier that determines its limits.
type Identity struct {
	ID   string    `json:"id"`
	Tier tier.Tier `json:"tier"`
}

// Claims are the JWT claims the upstream identity provider issues. The
// subject carries the identity id; the tier claim carries the plan.
type Claims struct {
	Tier string `json:"tier"`

	jwt.RegisteredClaims
}

// APIKey is a machine credential bound to an identity and tier. The secret
// is stored bcrypt-hashed; the public key id is the lookup handle.
type APIKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	KeyID      string     `json:"key_id" db:"key_id"`
	SecretHash string     `json:"-" db:"secret_hash"`
	Identity   string     `json:"identity" db:"identity"`
	Tier       tier.Tier  `json:"tier" db:"tier"`
	Active     bool       `json:"active" db:"active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
