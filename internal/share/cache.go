package share

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore fronts a Store with a bounded in-memory cache of records by id.
// Records are immutable, so the only invalidation needed is on Delete. Misses
// are not cached and expiry is still judged by the caller on every read.
type CachedStore struct {
	Store
	records *expirable.LRU[string, *Record]
}

// NewCachedStore wraps store. A size of zero or less disables caching.
func NewCachedStore(store Store, size int, ttl time.Duration) Store {
	if size <= 0 {
		return store
	}
	return &CachedStore{
		Store:   store,
		records: expirable.NewLRU[string, *Record](size, nil, ttl),
	}
}

func (c *CachedStore) Insert(ctx context.Context, rec *Record) error {
	if err := c.Store.Insert(ctx, rec); err != nil {
		return err
	}
	c.records.Add(rec.ID, cloneRecord(rec))
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (*Record, error) {
	if rec, ok := c.records.Get(id); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return cloneRecord(rec), nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	rec, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.records.Add(id, cloneRecord(rec))
	return rec, nil
}

func (c *CachedStore) Delete(ctx context.Context, id string) error {
	c.records.Remove(id)
	return c.Store.Delete(ctx, id)
}

func cloneRecord(rec *Record) *Record {
	cp := *rec
	return &cp
}
