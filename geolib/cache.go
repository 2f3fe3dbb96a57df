package geolib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL             = time.Hour
	DefaultBatchTTL        = 30 * time.Minute
	DefaultMaxBatchSize    = 100
	DefaultProviderTimeout = 5 * time.Second
	DefaultWorkerPoolSize  = 64
	DefaultStoreSize       = 100000

	workerPoolExpireTime = time.Minute
)

// Opts defines optional parameters of LookupCache. Zero values are
// replaced with defaults.
type Opts struct {
	// TTL of a single address result.
	TTL time.Duration

	// TTL of a whole batch.
	BatchTTL time.Duration

	// MaxBatchSize is a maximal number of addresses LookupBatch
	// accepts.
	MaxBatchSize int

	// ProviderTimeout bounds a single provider query.
	ProviderTimeout time.Duration

	// WorkerPoolSize is a number of workers which resolve batch
	// entries concurrently.
	WorkerPoolSize int

	// Stores for single results and for batches. If nil, LRU stores
	// of DefaultStoreSize are used.
	AddressStore Store
	BatchStore   Store

	Clock  clock.Clock
	Logger Logger
}

type cacheEntry struct {
	expiresAt time.Time
	result    Result
	batch     map[string]BatchItem
}

// Stats is a read-only snapshot of cache counters.
//
// Hits, Misses and HitRate are about single address lookups, including
// those performed on behalf of batches.
type Stats struct {
	Entries        int         `json:"entries"`
	AddressEntries int         `json:"address_entries"`
	BatchEntries   int         `json:"batch_entries"`
	Hits           uint64      `json:"hits"`
	Misses         uint64      `json:"misses"`
	HitRate        float64     `json:"hit_rate"`
	BatchHits      uint64      `json:"batch_hits"`
	BatchMisses    uint64      `json:"batch_misses"`
	Provider       *UsageStats `json:"provider"`
}

// LookupCache is a cache-aside layer in front of a Provider. It
// guarantees that within a TTL window there is at most one provider
// query per distinct address, even for concurrent callers.
type LookupCache struct {
	provider   Provider
	usageStats *UsageStats
	logger     Logger
	clock      clock.Clock

	addressStore Store
	batchStore   Store

	ttl             time.Duration
	batchTTL        time.Duration
	providerTimeout time.Duration
	maxBatchSize    int

	group      singleflight.Group
	workerPool *ants.PoolWithFunc

	hits        atomic.Uint64
	misses      atomic.Uint64
	batchHits   atomic.Uint64
	batchMisses atomic.Uint64

	rwmutex   sync.RWMutex
	closeOnce sync.Once
	closed    bool
}

// Lookup resolves a single address.
//
// Invalid addresses are rejected with ErrInvalidAddress, provider is
// not touched. If provider has no data for an address, result is an
// error record (see Result.NotFound) and it is cached as any other
// result. Provider failures are returned as ErrLookupFailed and are
// not cached.
func (l *LookupCache) Lookup(ctx context.Context, raw string) (Result, error) {
	l.rwmutex.RLock()
	defer l.rwmutex.RUnlock()

	if l.closed {
		return Result{}, ErrCacheShutdown
	}

	addr, err := ParseAddress(raw)
	if err != nil {
		return Result{}, err
	}

	return l.lookup(ctx, addr)
}

// LookupBatch resolves a list of addresses.
//
// Entries are trimmed, empty ones are skipped. Output has exactly
// one item per remaining entry, in the same order, duplicates
// included. A failure of some entry never fails the whole batch: its
// slot gets an error record and typed Err. LookupBatch fails only if
// request is structurally invalid, this is ErrInvalidRequest.
//
// Batches are cached as a unit under a key which does not depend on
// order of addresses.
func (l *LookupCache) LookupBatch(ctx context.Context, raws []string) ([]BatchItem, error) {
	l.rwmutex.RLock()
	defer l.rwmutex.RUnlock()

	if l.closed {
		return nil, ErrCacheShutdown
	}

	switch {
	case len(raws) == 0:
		return nil, fmt.Errorf("%w: no addresses are given", ErrInvalidRequest)
	case len(raws) > l.maxBatchSize:
		return nil, fmt.Errorf("%w: too many addresses (%d > %d)",
			ErrInvalidRequest, len(raws), l.maxBatchSize)
	}

	entries := parseBatchEntries(raws)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no usable addresses are given", ErrInvalidRequest)
	}

	batchKey := makeBatchKey(entries)

	if resolved, ok := l.getBatch(batchKey, entries); ok {
		l.batchHits.Add(1)

		return assembleBatch(entries, resolved), nil
	}

	l.batchMisses.Add(1)

	resolved, cacheable := l.resolveBatch(ctx, entries)

	if cacheable {
		l.batchStore.Set(batchKey, cacheEntry{
			expiresAt: l.clock.Now().Add(l.batchTTL),
			batch:     resolved,
		})
	}

	return assembleBatch(entries, resolved), nil
}

// Invalidate drops a cached result of the given address. Cached
// batches are dropped as well: they could contain this address.
func (l *LookupCache) Invalidate(raw string) error {
	addr, err := ParseAddress(raw)
	if err != nil {
		return err
	}

	l.addressStore.Delete(addr.String())
	l.batchStore.Purge()

	return nil
}

// Purge drops all cached entries.
func (l *LookupCache) Purge() {
	l.addressStore.Purge()
	l.batchStore.Purge()
}

// DatasetUpdated has to be called when provider has updated its
// dataset. It drops all cached entries so new data takes effect
// immediately.
func (l *LookupCache) DatasetUpdated() {
	l.Purge()
	l.usageStats.Updated()
	l.logger.UpdateInfo(l.provider.Name(), "dataset was updated, cache is purged")
}

func (l *LookupCache) Stats() Stats {
	addressEntries := l.addressStore.Len()
	batchEntries := l.batchStore.Len()
	hits := l.hits.Load()
	misses := l.misses.Load()

	rv := Stats{
		Entries:        addressEntries + batchEntries,
		AddressEntries: addressEntries,
		BatchEntries:   batchEntries,
		Hits:           hits,
		Misses:         misses,
		BatchHits:      l.batchHits.Load(),
		BatchMisses:    l.batchMisses.Load(),
		Provider:       l.usageStats,
	}

	if total := hits + misses; total > 0 {
		rv.HitRate = float64(hits) / float64(total)
	}

	return rv
}

// Ready reports if underlying provider is ready to serve requests.
func (l *LookupCache) Ready() error {
	return l.provider.Ready()
}

func (l *LookupCache) ProviderName() string {
	return l.provider.Name()
}

func (l *LookupCache) Shutdown() {
	l.rwmutex.Lock()
	defer l.rwmutex.Unlock()

	l.closed = true

	l.closeOnce.Do(func() {
		l.workerPool.Release()
		l.addressStore.Close()
		l.batchStore.Close()
	})
}

func (l *LookupCache) lookup(ctx context.Context, addr Address) (Result, error) {
	key := addr.String()

	if rv, ok := l.getResult(key); ok {
		l.hits.Add(1)

		return rv, nil
	}

	l.misses.Add(1)

	// query is shared by all waiting callers so it ignores cancellation
	// of the one which has started it. It is bounded by providerTimeout.
	queryCtx := context.WithoutCancel(ctx)

	resultChan := l.group.DoChan(key, func() (interface{}, error) {
		// someone could populate a cache while we were waiting
		if rv, ok := l.getResult(key); ok {
			return rv, nil
		}

		rv, err := l.queryProvider(queryCtx, addr)
		if err != nil {
			return Result{}, err
		}

		l.addressStore.Set(key, cacheEntry{
			expiresAt: l.clock.Now().Add(l.ttl),
			result:    rv,
		})

		return rv, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %w", ErrLookupFailed, ctx.Err())
	case res := <-resultChan:
		if res.Err != nil {
			return Result{}, res.Err
		}

		return res.Val.(Result), nil
	}
}

func (l *LookupCache) queryProvider(ctx context.Context, addr Address) (Result, error) {
	ctx, cancel := l.clock.WithTimeout(ctx, l.providerTimeout)
	defer cancel()

	record, err := l.provider.Lookup(ctx, addr)

	l.usageStats.Used(err)

	switch {
	case err == nil:
		return normalizeRecord(addr, record), nil
	case errors.Is(err, ErrNotFound):
		return newNotFoundRecord(addr.String()), nil
	}

	l.logger.LookupError(addr.String(), l.provider.Name(), err)

	return Result{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
}

func (l *LookupCache) getResult(key string) (Result, bool) {
	entry, ok := l.getEntry(l.addressStore, key)
	if !ok {
		return Result{}, false
	}

	return entry.result, true
}

func (l *LookupCache) getBatch(key string, entries []batchEntry) (map[string]BatchItem, bool) {
	entry, ok := l.getEntry(l.batchStore, key)
	if !ok {
		return nil, false
	}

	for _, v := range entries {
		if _, ok := entry.batch[v.key]; !ok {
			return nil, false
		}
	}

	return entry.batch, true
}

// getEntry never returns expired entries, even if store has not
// evicted them yet.
func (l *LookupCache) getEntry(store Store, key string) (cacheEntry, bool) {
	entry, ok := store.Get(key)
	if !ok {
		return cacheEntry{}, false
	}

	if !l.clock.Now().Before(entry.expiresAt) {
		store.Delete(key)

		return cacheEntry{}, false
	}

	return entry, true
}

func (l *LookupCache) resolveBatch(ctx context.Context, entries []batchEntry) (map[string]BatchItem, bool) {
	rv := make(map[string]BatchItem, len(entries))
	toResolve := make([]Address, 0, len(entries))

	for _, v := range entries {
		if _, ok := rv[v.key]; ok {
			continue
		}

		if v.err != nil {
			rv[v.key] = BatchItem{
				Result: newErrorRecord(v.input, v.err.Error()),
				Err:    v.err,
			}

			continue
		}

		rv[v.key] = BatchItem{}
		toResolve = append(toResolve, v.addr)
	}

	resultChannel := make(chan batchResult, len(toResolve))
	groupRequest := newPoolGroupRequest(ctx, resultChannel, l.workerPool)

	for _, addr := range toResolve {
		if err := groupRequest.Do(ctx, addr); err != nil {
			err = fmt.Errorf("%w: %w", ErrLookupFailed, err)
			resultChannel <- batchResult{
				key: addr.String(),
				item: BatchItem{
					Result: newErrorRecord(addr.String(), err.Error()),
					Err:    err,
				},
			}
		}
	}

	groupRequest.Wait()
	close(resultChannel)

	cacheable := true

	for res := range resultChannel {
		rv[res.key] = res.item

		if errors.Is(res.item.Err, ErrLookupFailed) {
			cacheable = false
		}
	}

	return rv, cacheable
}

func (l *LookupCache) resolveBatchItem(args interface{}) {
	req := args.(*resolveBatchRequest)
	defer req.wg.Done()

	key := req.addr.String()
	item := BatchItem{}

	item.Result, item.Err = l.lookup(req.ctx, req.addr)
	if item.Err != nil {
		item.Result = newErrorRecord(key, item.Err.Error())
	}

	req.resultChannel <- batchResult{
		key:  key,
		item: item,
	}
}

type batchEntry struct {
	input string
	key   string
	addr  Address
	err   error
}

func parseBatchEntries(raws []string) []batchEntry {
	rv := make([]batchEntry, 0, len(raws))

	for _, v := range raws {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}

		entry := batchEntry{
			input: trimmed,
			key:   trimmed,
		}

		if addr, err := ParseAddress(trimmed); err != nil {
			entry.err = err
		} else {
			entry.addr = addr
			entry.key = addr.String()
		}

		rv = append(rv, entry)
	}

	return rv
}

// makeBatchKey sorts normalized entries and joins them. Entries are
// JSON-encoded because invalid ones may contain any separator.
func makeBatchKey(entries []batchEntry) string {
	keys := make([]string, len(entries))

	for i := range entries {
		keys[i] = entries[i].key
	}

	sort.Strings(keys)

	data, _ := json.Marshal(keys)

	return string(data)
}

func assembleBatch(entries []batchEntry, resolved map[string]BatchItem) []BatchItem {
	rv := make([]BatchItem, len(entries))

	for i, v := range entries {
		rv[i] = resolved[v.key]
		rv[i].Input = v.input
	}

	return rv
}

func normalizeRecord(addr Address, record ProviderRecord) Result {
	countryCode := NormalizeAlpha2Code(record.CountryCode)
	countryName := strings.TrimSpace(record.CountryName)

	if countryName == "" {
		countryName = CountryName(countryCode)
	}

	return Result{
		IP:             addr.String(),
		CountryName:    orUnknown(countryName),
		CountryCode:    orUnknown(countryCode),
		RegionName:     orUnknown(record.RegionName),
		RegionCode:     orUnknown(strings.ToUpper(record.RegionCode)),
		City:           orUnknown(record.City),
		PostalCode:     orUnknown(record.PostalCode),
		Latitude:       record.Latitude,
		Longitude:      record.Longitude,
		Timezone:       orUnknown(record.Timezone),
		AccuracyRadius: record.AccuracyRadius,
		ISP:            orUnknown(record.ISP),
		Organization:   orUnknown(record.Organization),
	}
}

func orUnknown(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return Unknown
	}

	return value
}

// NewLookupCache creates a new cache in front of the given provider.
// Provider readiness is checked once here: if it fails, no cache is
// created.
func NewLookupCache(provider Provider, opts Opts) (*LookupCache, error) {
	if err := provider.Ready(); err != nil {
		return nil, fmt.Errorf("provider %s is not ready: %w", provider.Name(), err)
	}

	rv := &LookupCache{
		provider:        provider,
		usageStats:      &UsageStats{Name: provider.Name()},
		logger:          opts.Logger,
		clock:           opts.Clock,
		addressStore:    opts.AddressStore,
		batchStore:      opts.BatchStore,
		ttl:             opts.TTL,
		batchTTL:        opts.BatchTTL,
		providerTimeout: opts.ProviderTimeout,
		maxBatchSize:    opts.MaxBatchSize,
	}

	if rv.ttl <= 0 {
		rv.ttl = DefaultTTL
	}

	if rv.batchTTL <= 0 {
		rv.batchTTL = DefaultBatchTTL
	}

	if rv.providerTimeout <= 0 {
		rv.providerTimeout = DefaultProviderTimeout
	}

	if rv.maxBatchSize <= 0 {
		rv.maxBatchSize = DefaultMaxBatchSize
	}

	if rv.logger == nil {
		rv.logger = noopLogger{}
	}

	if rv.clock == nil {
		rv.clock = clock.New()
	}

	if rv.addressStore == nil {
		rv.addressStore = NewLRUStore(DefaultStoreSize, rv.ttl)
	}

	if rv.batchStore == nil {
		rv.batchStore = NewLRUStore(DefaultStoreSize, rv.batchTTL)
	}

	poolSize := opts.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = DefaultWorkerPoolSize
	}

	pool, err := ants.NewPoolWithFunc(poolSize, rv.resolveBatchItem,
		ants.WithExpiryDuration(workerPoolExpireTime))
	if err != nil {
		return nil, fmt.Errorf("cannot create a worker pool: %w", err)
	}

	rv.workerPool = pool

	return rv, nil
}

type noopLogger struct{}

func (noopLogger) LookupError(_, _ string, _ error) {}
func (noopLogger) UpdateInfo(_, _ string)           {}
func (noopLogger) UpdateError(_ string, _ error)    {}
