package geolib

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const ristrettoBufferItems = 64

type ristrettoStore struct {
	cache *ristretto.Cache[string, cacheEntry]
	ttl   time.Duration
}

func (r ristrettoStore) Get(key string) (cacheEntry, bool) {
	return r.cache.Get(key)
}

// Set waits until ristretto buffers are flushed. Otherwise a value is
// eventually consistent and an immediate Get may miss.
func (r ristrettoStore) Set(key string, entry cacheEntry) {
	r.cache.SetWithTTL(key, entry, 1, r.ttl)
	r.cache.Wait()
}

func (r ristrettoStore) Delete(key string) {
	r.cache.Del(key)
}

func (r ristrettoStore) Purge() {
	r.cache.Clear()
}

// Len is approximate: ristretto counts added and evicted keys only.
func (r ristrettoStore) Len() int {
	added := r.cache.Metrics.KeysAdded()
	evicted := r.cache.Metrics.KeysEvicted()

	if evicted >= added {
		return 0
	}

	return int(added - evicted)
}

func (r ristrettoStore) Close() {
	r.cache.Close()
}

// NewRistrettoStore returns a store backed by ristretto. It is a good
// choice for big caches with a lot of concurrent readers.
func NewRistrettoStore(size int, ttl time.Duration) (Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, cacheEntry]{
		MaxCost:            int64(size),
		NumCounters:        10 * int64(size),
		Metrics:            true,
		BufferItems:        ristrettoBufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create ristretto cache: %w", err)
	}

	return ristrettoStore{
		cache: cache,
		ttl:   ttl,
	}, nil
}
