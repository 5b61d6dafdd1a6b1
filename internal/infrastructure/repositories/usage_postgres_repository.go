package repositories

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/ports"
	"github.com/simcorehq/admission/internal/infrastructure/db"
)

// UsagePostgresRepository stores usage records in the same Postgres
// database that holds the business data. No cache sits in front of it;
// the table is the single source of truth for the sliding window.
type UsagePostgresRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewUsagePostgresRepository creates a Postgres-backed usage ledger.
func NewUsagePostgresRepository(database *db.Database, logger *logrus.Logger) ports.UsageLedger {
	return &UsagePostgresRepository{
		db:     database,
		logger: logger,
	}
}

// CountSince counts records for (identity, endpoint) at or after the given
// instant. The >= comparison keeps a record created exactly at the window
// start inside the window.
func (r *UsagePostgresRepository) CountSince(ctx context.Context, identity, endpoint string, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM usage_records
		WHERE identity = $1 AND endpoint = $2 AND created_at >= $3`

	if err := r.db.DB.GetContext(ctx, &count, query, identity, endpoint, since); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(err).Error("db: failed to count usage records")
		}
		return 0, err
	}
	return count, nil
}

// Record appends one usage record.
func (r *UsagePostgresRepository) Record(ctx context.Context, rec *admission.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, identity, endpoint, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.DB.ExecContext(ctx, query, rec.ID, rec.Identity, rec.Endpoint, rec.CreatedAt)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identity": rec.Identity, "endpoint": rec.Endpoint}).WithError(err).Error("db: failed to insert usage record")
		}
		return err
	}
	return nil
}

// DeleteOlderThan removes records that fell out of the retention window.
func (r *UsagePostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Error("db: failed to delete expired usage records")
		}
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 && r.logger != nil {
		r.logger.WithFields(logrus.Fields{"deleted": deleted}).Debug("db: expired usage records deleted")
	}
	return deleted, nil
}
