package geolib

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruStore struct {
	lru *expirable.LRU[string, cacheEntry]
}

func (l lruStore) Get(key string) (cacheEntry, bool) {
	return l.lru.Get(key)
}

func (l lruStore) Set(key string, entry cacheEntry) {
	l.lru.Add(key, entry)
}

func (l lruStore) Delete(key string) {
	l.lru.Remove(key)
}

func (l lruStore) Purge() {
	l.lru.Purge()
}

func (l lruStore) Len() int {
	return l.lru.Len()
}

func (l lruStore) Close() {
	l.lru.Purge()
}

// NewLRUStore returns a bounded store which evicts least recently used
// entries and drops expired ones in background.
//
// This store is synchronous: an entry is visible to readers as soon as
// Set returns.
func NewLRUStore(size int, ttl time.Duration) Store {
	return lruStore{
		lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}
