package listcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/domain"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gallery:records:"

// Store is the subset of a Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Backend caches the listing of an inner backend in Redis. Writes go straight
// to the inner backend and invalidate the cached listing.
//
// A listing read from the inner backend is only cached when no write was
// invalidated while it was in flight; otherwise it may predate that write.
type Backend struct {
	inner port.Backend
	redis Store
	ttl   time.Duration
	key   string

	mu         sync.Mutex // orders cache fills against invalidations
	generation uint64     // bumped by every invalidation
}

var (
	_ port.Backend       = (*Backend)(nil)
	_ port.Fingerprinter = (*Backend)(nil)
	_ port.WriteChecker  = (*Backend)(nil)
)

func New(inner port.Backend, store Store, ttl time.Duration) *Backend {
	return &Backend{
		inner: inner,
		redis: store,
		ttl:   ttl,
		key:   keyPrefix + string(inner.Kind()),
	}
}

func (b *Backend) Kind() domain.BackendKind {
	return b.inner.Kind()
}

func (b *Backend) List(ctx context.Context) ([]domain.Record, error) {
	raw, err := b.redis.Get(ctx, b.key).Bytes()
	switch {
	case err == nil:
		var records []domain.Record
		if jsonErr := json.Unmarshal(raw, &records); jsonErr == nil {
			return records, nil
		}
		logger.Warnw("Discarding unreadable cached listing", "key", b.key)
	case !errors.Is(err, redis.Nil):
		logger.Warnw("Listing cache unavailable", "key", b.key, "error", err.Error())
	}

	b.mu.Lock()
	generation := b.generation
	b.mu.Unlock()

	records, err := b.inner.List(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != generation {
		logger.Debugw("Not caching listing read across a write", "key", b.key)
		return records, nil
	}
	if err := b.redis.Set(ctx, b.key, payload, b.ttl).Err(); err != nil {
		logger.Warnw("Failed to cache listing", "key", b.key, "error", err.Error())
	}
	return records, nil
}

func (b *Backend) Add(ctx context.Context, upload domain.Upload) (domain.Record, error) {
	record, err := b.inner.Add(ctx, upload)
	if err != nil {
		return record, err
	}
	b.invalidate(ctx)
	return record, nil
}

func (b *Backend) Delete(ctx context.Context, record domain.Record) error {
	if err := b.inner.Delete(ctx, record); err != nil {
		return err
	}
	b.invalidate(ctx)
	return nil
}

// Fingerprint forwards to the inner backend when it has one.
func (b *Backend) Fingerprint() string {
	if fp, ok := b.inner.(port.Fingerprinter); ok {
		return fp.Fingerprint()
	}
	return ""
}

// CanWrite forwards to the inner backend when it has a write check.
func (b *Backend) CanWrite() error {
	if wc, ok := b.inner.(port.WriteChecker); ok {
		return wc.CanWrite()
	}
	return nil
}

func (b *Backend) invalidate(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	if err := b.redis.Del(ctx, b.key).Err(); err != nil {
		logger.Warnw("Failed to invalidate cached listing", "key", b.key, "error", err.Error())
	}
}
