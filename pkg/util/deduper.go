package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper claims one-shot keys in Redis with SETNX.
type Deduper struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewDeduper returns a Deduper; logger may be nil.
func NewDeduper(rdb *redis.Client, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		logger: logger,
	}
}

// DedupKey formats the redis key for scope and id.
func DedupKey(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}

// AcquireOnce returns true the first time scope+id is seen within ttl.
// When Redis is unavailable it fails open and returns true.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, id string, ttl time.Duration) bool {
	key := DedupKey(scope, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("scope", scope),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops a claim so the next AcquireOnce for scope+id succeeds.
func (d *Deduper) Release(ctx context.Context, scope, id string) {
	key := DedupKey(scope, id)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("scope", scope),
			zap.String("dedup_key", key),
			zap.Error(err),
		)
	}
}
