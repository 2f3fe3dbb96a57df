package geolib

import (
	"context"
	"net/http"
)

// Provider is a source of geolocation data.
//
// Lookup has to return ErrNotFound (possibly wrapped) if address is
// absent in the dataset. Any other error is treated as a failure of
// provider itself.
//
// Ready is a readiness check: LookupCache calls it once on
// construction and refuses to start if it fails.
type Provider interface {
	Name() string
	Ready() error
	Lookup(context.Context, Address) (ProviderRecord, error)
}

// Store is a key-value storage for cache entries. Implementations have
// to be safe for concurrent use.
//
// Entries are internal to LookupCache so this interface cannot be
// implemented outside of this package. Use NewLRUStore or
// NewRistrettoStore.
type Store interface {
	Get(key string) (cacheEntry, bool)
	Set(key string, entry cacheEntry)
	Delete(key string)
	Purge()
	Len() int
	Close()
}

type Logger interface {
	LookupError(ip string, name string, err error)
	UpdateInfo(name string, msg string)
	UpdateError(name string, err error)
}

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}
