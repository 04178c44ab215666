package monitoring

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Exister is the slice of the cache store a probe needs.
type Exister interface {
	Exists(ctx context.Context, key string) (bool, error)
}

const cacheProbeKey = "health:probe"

// DatabaseCheck pings the connection pool behind db.
func DatabaseCheck(db *gorm.DB) Check {
	return NewCheck("database", func(ctx context.Context) ProbeResult {
		start := time.Now()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		return ResultFromError("database", err, time.Since(start))
	})
}

// CacheCheck performs a key lookup against the shared cache.
func CacheCheck(store Exister) Check {
	return NewCheck("cache", func(ctx context.Context) ProbeResult {
		start := time.Now()
		_, err := store.Exists(ctx, cacheProbeKey)
		return ResultFromError("cache", err, time.Since(start))
	})
}
