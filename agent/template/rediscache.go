package template

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mottych/purposepath-ai/agent/topic"
)

// RedisCachedLoader wraps a Loader with a shared Redis cache so multiple
// engine processes reuse the same bounded-TTL template loads instead of each
// maintaining an independent in-process cache (SPEC_FULL.md 4.3).
type RedisCachedLoader struct {
	next   Loader
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCachedLoader constructs a RedisCachedLoader. ttl defaults to 5
// minutes when zero or negative.
func NewRedisCachedLoader(next Loader, client *redis.Client, ttl time.Duration) *RedisCachedLoader {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCachedLoader{next: next, client: client, ttl: ttl, prefix: "tmpl:"}
}

// Load implements Loader, checking Redis before delegating to next.
func (l *RedisCachedLoader) Load(ctx context.Context, ref topic.TemplateRef) (string, error) {
	key := l.prefix + ref.Ref + "@" + ref.Version

	if cached, err := l.client.Get(ctx, key).Result(); err == nil {
		return cached, nil
	} else if err != redis.Nil {
		// Redis unavailable: fall through to the underlying loader rather than
		// failing the render; the object store remains the source of truth.
		_ = err
	}

	text, err := l.next.Load(ctx, ref)
	if err != nil {
		return "", err
	}

	_ = l.client.Set(ctx, key, text, l.ttl).Err()
	return text, nil
}

// Invalidate evicts the Redis entry for ref, used on administrative update
// notifications.
func (l *RedisCachedLoader) Invalidate(ctx context.Context, ref topic.TemplateRef) error {
	key := l.prefix + ref.Ref + "@" + ref.Version
	return l.client.Del(ctx, key).Err()
}
