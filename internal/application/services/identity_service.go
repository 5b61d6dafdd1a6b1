package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/domain/identity"
	"github.com/simcorehq/admission/internal/core/domain/tier"
	"github.com/simcorehq/admission/internal/core/ports"
)

const apiKeyPrefix = "ak"

// IdentityService resolves the caller of a request. Two credential kinds
// are accepted: a Bearer JWT issued upstream (subject + tier claim), or an
// API key of the form ak_<keyID>_<secret> whose secret is bcrypt-checked
// against the key table.
type IdentityService struct {
	keys      ports.APIKeyRepository
	jwtSecret []byte
	logger    *logrus.Logger
}

func NewIdentityService(keys ports.APIKeyRepository, jwtSecret string, logger *logrus.Logger) *IdentityService {
	return &IdentityService{keys: keys, jwtSecret: []byte(jwtSecret), logger: logger}
}

func (s *IdentityService) Resolve(ctx context.Context, r *http.Request) (*identity.Identity, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return s.resolveAPIKey(ctx, key)
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return s.resolveJWT(strings.TrimPrefix(auth, "Bearer "))
	}
	return nil, admission.ErrUnauthenticated
}

func (s *IdentityService) resolveJWT(tokenString string) (*identity.Identity, error) {
	claims := &identity.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		if s.logger != nil {
			s.logger.WithError(err).Debug("identity: jwt validation failed")
		}
		return nil, admission.ErrUnauthenticated
	}
	return &identity.Identity{ID: claims.Subject, Tier: tier.Parse(claims.Tier)}, nil
}

func (s *IdentityService) resolveAPIKey(ctx context.Context, raw string) (*identity.Identity, error) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyPrefix || parts[1] == "" || parts[2] == "" {
		return nil, admission.ErrUnauthenticated
	}
	keyID, secret := parts[1], parts[2]

	key, err := s.keys.GetByKeyID(ctx, keyID)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"key_id": keyID}).WithError(err).Debug("identity: api key lookup failed")
		}
		return nil, admission.ErrUnauthenticated
	}
	if !key.Active {
		return nil, admission.ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"key_id": keyID}).Warn("identity: api key secret mismatch")
		}
		return nil, admission.ErrUnauthenticated
	}

	// Stamp last use without holding up the request.
	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.keys.TouchLastUsed(tctx, key.ID); err != nil && s.logger != nil {
			s.logger.WithFields(logrus.Fields{"key_id": keyID}).WithError(err).Debug("identity: failed to stamp api key use")
		}
	}()

	return &identity.Identity{ID: key.Identity, Tier: key.Tier}, nil
}
