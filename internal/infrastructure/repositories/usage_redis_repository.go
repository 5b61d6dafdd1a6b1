package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/simcorehq/admission/internal/core/domain/admission"
	"github.com/simcorehq/admission/internal/core/ports"
)

// UsageRedisRepository is the alternate usage ledger backend: one sorted
// set per (identity, endpoint) with the record timestamp as score. Counting
// the trailing window is a ZCOUNT; retention rides on key expiry plus the
// reaper's ZREMRANGEBYSCORE sweep.
type UsageRedisRepository struct {
	r         redis.Cmdable
	retention time.Duration
}

const usageKeyPrefix = "usage"

// NewUsageRedisRepository creates a Redis-backed usage ledger. Retention
// should exceed the enforced window; twice the window matches the Postgres
// ledger's reap cutoff.
func NewUsageRedisRepository(r redis.Cmdable, retention time.Duration) ports.UsageLedger {
	return &UsageRedisRepository{r: r, retention: retention}
}

func usageKey(identity, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", usageKeyPrefix, identity, endpoint)
}

func (repo *UsageRedisRepository) CountSince(ctx context.Context, identity, endpoint string, since time.Time) (int, error) {
	count, err := repo.r.ZCount(ctx, usageKey(identity, endpoint),
		strconv.FormatInt(since.UnixNano(), 10), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (repo *UsageRedisRepository) Record(ctx context.Context, rec *admission.UsageRecord) error {
	key := usageKey(rec.Identity, rec.Endpoint)
	pipe := repo.r.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID.String(),
	})
	pipe.Expire(ctx, key, repo.retention)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteOlderThan sweeps every usage key, trimming members that fell out of
// the retention window. Key expiry already bounds growth for idle pairs;
// this keeps hot keys small.
func (repo *UsageRedisRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	max := strconv.FormatInt(cutoff.UnixNano(), 10)
	iter := repo.r.Scan(ctx, 0, usageKeyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := repo.r.ZRemRangeByScore(ctx, iter.Val(), "0", max).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
