package ingress

import (
	"context"

	"github.com/liekzejaws/clawd-throttle/internal/dedup"
)

// DedupStore is the subset of dedup.Cache/dedup.RedisCache the ingress
// handler needs. Both backends satisfy it (the in-memory Cache via the
// memDedupAdapter below, since its Lookup/Complete/Fail predate the
// context-and-error shape the Redis backend introduced for its network
// calls).
type DedupStore interface {
	Lookup(ctx context.Context, key string) (dedup.Entry, bool, *dedup.Handle, error)
	Complete(ctx context.Context, h *dedup.Handle, entry dedup.Entry) error
	Fail(h *dedup.Handle, err error)
}

// memDedupAdapter adapts *dedup.Cache to DedupStore.
type memDedupAdapter struct{ cache *dedup.Cache }

// NewMemDedupStore wraps an in-memory dedup.Cache as a DedupStore.
func NewMemDedupStore(cache *dedup.Cache) DedupStore {
	return memDedupAdapter{cache: cache}
}

func (m memDedupAdapter) Lookup(_ context.Context, key string) (dedup.Entry, bool, *dedup.Handle, error) {
	entry, hit, handle := m.cache.Lookup(key)
	return entry, hit, handle, nil
}

func (m memDedupAdapter) Complete(_ context.Context, h *dedup.Handle, entry dedup.Entry) error {
	h.Complete(entry)
	return nil
}

func (m memDedupAdapter) Fail(h *dedup.Handle, err error) {
	h.Fail(err)
}

// redisDedupAdapter adapts *dedup.RedisCache to DedupStore. Unlike
// memDedupAdapter it never calls h.Complete/h.Fail directly: RedisCache's
// own Complete/Fail methods own the wake-waiters step, and the handles it
// hands back carry a nil cache pointer (see dedup.Handle.Complete/Fail),
// so calling through the handle instead of the cache would panic.
type redisDedupAdapter struct{ cache *dedup.RedisCache }

// NewRedisDedupStore wraps a *dedup.RedisCache as a DedupStore.
func NewRedisDedupStore(cache *dedup.RedisCache) DedupStore {
	return redisDedupAdapter{cache: cache}
}

func (r redisDedupAdapter) Lookup(ctx context.Context, key string) (dedup.Entry, bool, *dedup.Handle, error) {
	return r.cache.Lookup(ctx, key)
}

func (r redisDedupAdapter) Complete(ctx context.Context, h *dedup.Handle, entry dedup.Entry) error {
	return r.cache.Complete(ctx, h, entry)
}

func (r redisDedupAdapter) Fail(h *dedup.Handle, err error) {
	r.cache.Fail(h, err)
}
