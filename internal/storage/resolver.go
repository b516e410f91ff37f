package storage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/casefile/internal/cache"
)

// Resolver maps an image's storage reference to a fetchable URL. References
// that are already http(s) URLs pass through; object keys are presigned and
// the result is cached until shortly before it expires.
type Resolver struct {
	presigner Presigner
	cache     cache.Cache
	expiry    time.Duration
}

func NewResolver(p Presigner, c cache.Cache, expiry time.Duration) *Resolver {
	return &Resolver{presigner: p, cache: c, expiry: expiry}
}

func (r *Resolver) ResolveURL(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	key := cache.PresignedURLKey(r.presigner.Bucket(), ref)
	if r.cache != nil {
		if val, ok, err := r.cache.Get(ctx, key); err != nil {
			slog.Warn("presigned url cache read failed", "key", key, "error", err)
		} else if ok {
			return string(val), nil
		}
	}

	url, err := r.presigner.PresignGet(ctx, ref, r.expiry)
	if err != nil {
		return "", err
	}

	if ttl := cacheTTL(r.expiry); r.cache != nil && ttl > 0 {
		if err := r.cache.Set(ctx, key, []byte(url), ttl); err != nil {
			slog.Warn("presigned url cache write failed", "key", key, "error", err)
		}
	}
	return url, nil
}

// cacheTTL leaves a margin so a cached URL is never handed out about to expire.
func cacheTTL(expiry time.Duration) time.Duration {
	margin := expiry / 10
	if margin < time.Minute {
		margin = time.Minute
	}
	return expiry - margin
}
