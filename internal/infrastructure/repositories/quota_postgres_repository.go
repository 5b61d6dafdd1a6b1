package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/ports"
	"github.com/simcorehq/admission/internal/infrastructure/db"
)

// QuotaPostgresRepository stores monthly counters and performs the
// check-and-increment as one conditional UPDATE. The row guard
// `count < max_count` makes the operation atomic at the storage layer;
// two racing callers for the last unit serialize on the row lock and only
// one sees the guard pass.
type QuotaPostgresRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewQuotaPostgresRepository creates a Postgres-backed quota ledger.
func NewQuotaPostgresRepository(database *db.Database, logger *logrus.Logger) ports.QuotaLedger {
	return &QuotaPostgresRepository{
		db:     database,
		logger: logger,
	}
}

// IncrementIfBelow seeds the period row if absent, optionally re-seeds its
// limit, then increments only while below the stored limit.
func (r *QuotaPostgresRepository) IncrementIfBelow(ctx context.Context, key admission.QuotaKey, periodStart time.Time, limit int, reseed bool) (int, int, bool, error) {
	// Seed the row on first use in the period. ON CONFLICT keeps this
	// race-safe against a concurrent first caller.
	seed := `
		INSERT INTO quota_counters (identity, platform, resource_type, period_start, count, max_count)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (identity, platform, resource_type, period_start) DO NOTHING`
	if _, err := r.db.DB.ExecContext(ctx, seed, key.Identity, key.Platform, key.ResourceType, periodStart, limit); err != nil {
		r.logError(key, err, "failed to seed quota counter")
		return 0, 0, false, err
	}

	if reseed {
		// Immediate tier-change policy: the open period follows the
		// caller's current tier. A downgrade below the consumed count
		// clamps to count, keeping the count <= max_count invariant; the
		// row is then full and further increments are denied.
		update := `
			UPDATE quota_counters SET max_count = GREATEST($5, count), updated_at = now()
			WHERE identity = $1 AND platform = $2 AND resource_type = $3 AND period_start = $4 AND max_count <> GREATEST($5, count)`
		if _, err := r.db.DB.ExecContext(ctx, update, key.Identity, key.Platform, key.ResourceType, periodStart, limit); err != nil {
			r.logError(key, err, "failed to re-seed quota limit")
			return 0, 0, false, err
		}
	}

	var row struct {
		Count    int `db:"count"`
		MaxCount int `db:"max_count"`
	}
	increment := `
		UPDATE quota_counters SET count = count + 1, updated_at = now()
		WHERE identity = $1 AND platform = $2 AND resource_type = $3 AND period_start = $4 AND count < max_count
		RETURNING count, max_count`
	err := r.db.DB.GetContext(ctx, &row, increment, key.Identity, key.Platform, key.ResourceType, periodStart)
	if err == nil {
		return row.Count, row.MaxCount, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logError(key, err, "failed to increment quota counter")
		return 0, 0, false, err
	}

	// Guard did not pass: the counter is full. Read the state for the
	// rejection payload.
	state := `
		SELECT count, max_count FROM quota_counters
		WHERE identity = $1 AND platform = $2 AND resource_type = $3 AND period_start = $4`
	if err := r.db.DB.GetContext(ctx, &row, state, key.Identity, key.Platform, key.ResourceType, periodStart); err != nil {
		r.logError(key, err, "failed to read exhausted quota counter")
		return 0, 0, false, err
	}
	return row.Count, row.MaxCount, false, nil
}

// Counters lists an identity's counters for the given period.
func (r *QuotaPostgresRepository) Counters(ctx context.Context, identity string, periodStart time.Time) ([]*admission.QuotaCounter, error) {
	var counters []*admission.QuotaCounter
	query := `
		SELECT identity, platform, resource_type, period_start, count, max_count, created_at, updated_at
		FROM quota_counters
		WHERE identity = $1 AND period_start = $2
		ORDER BY platform, resource_type`
	if err := r.db.DB.SelectContext(ctx, &counters, query, identity, periodStart); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identity": identity}).WithError(err).Error("db: failed to list quota counters")
		}
		return nil, fmt.Errorf("failed to list quota counters: %w", err)
	}
	return counters, nil
}

func (r *QuotaPostgresRepository) logError(key admission.QuotaKey, err error, msg string) {
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"identity":      key.Identity,
			"platform":      key.Platform,
			"resource_type": key.ResourceType,
		}).WithError(err).Error("db: " + msg)
	}
}
