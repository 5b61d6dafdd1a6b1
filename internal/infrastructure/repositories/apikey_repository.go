package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/identity"
	"github.com/simcorehq/admission/internal/core/ports"
	"github.com/simcorehq/admission/internal/infrastructure/db"
)

// APIKeyRepository implements API key lookup over Postgres.
type APIKeyRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewAPIKeyRepository creates a new API key repository.
func NewAPIKeyRepository(database *db.Database, logger *logrus.Logger) ports.APIKeyRepository {
	return &APIKeyRepository{
		db:     database,
		logger: logger,
	}
}

// GetByKeyID retrieves a key by its public key id.
func (r *APIKeyRepository) GetByKeyID(ctx context.Context, keyID string) (*identity.APIKey, error) {
	var key identity.APIKey
	query := `
		SELECT id, key_id, secret_hash, identity, tier, active, created_at, last_used_at
		FROM api_keys
		WHERE key_id = $1`

	err := r.db.DB.GetContext(ctx, &key, query, keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if r.logger != nil {
				r.logger.WithFields(logrus.Fields{"key_id": keyID}).Debug("db: api key not found")
			}
			return nil, fmt.Errorf("api key %s not found", keyID)
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"key_id": keyID}).WithError(err).Error("db: failed to get api key")
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}

// TouchLastUsed stamps the key's last use.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}
