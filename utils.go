package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/9seconds/ipgeo/providers"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

func makeRootContext() (context.Context, context.CancelFunc) {
	rootCtx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)

	go func() {
		for range sigChan {
			cancel()
		}
	}()

	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	return rootCtx, cancel
}

// makeProvider builds all configured providers and chains them in
// config order. Offline providers are opened here and returned both as
// reloaders and closers.
func makeProvider(fs afero.Fs, conf *config) (geolib.Provider, []reloader, []io.Closer, error) {
	provs := make([]geolib.Provider, 0, len(conf.GetProviders()))
	reloaders := []reloader{}
	closers := []io.Closer{}

	for _, v := range conf.GetProviders() {
		switch v.GetName() {
		case providers.NameMaxmind:
			prov := providers.NewMaxmind(fs, v.GetCityDB(), v.GetISPDB())
			if err := prov.Open(); err != nil {
				closeAll(closers) // nolint: errcheck

				return nil, nil, nil, fmt.Errorf("cannot open maxmind databases: %w", err)
			}

			provs = append(provs, prov)
			reloaders = append(reloaders, prov)
			closers = append(closers, prov)
		case providers.NameIPInfo:
			provs = append(provs, providers.NewIPInfo(makeNewHTTPClient(v), v.GetAuthToken()))
		default:
			closeAll(closers) // nolint: errcheck

			return nil, nil, nil, fmt.Errorf("unsupported provider name: %s", v.GetName())
		}
	}

	prov, err := providers.NewChain(provs...)
	if err != nil {
		closeAll(closers) // nolint: errcheck

		return nil, nil, nil, fmt.Errorf("cannot build provider chain: %w", err)
	}

	return prov, reloaders, closers, nil
}

func closeAll(closers []io.Closer) error {
	var err error

	for _, v := range closers {
		err = multierr.Append(err, v.Close())
	}

	return err
}

func makeNewHTTPClient(conf configProvider) geolib.HTTPClient {
	return geolib.NewHTTPClient(&http.Client{}, geolib.HTTPClientOpts{
		UserAgent:         "ipgeo/" + version,
		Timeout:           conf.GetHTTPTimeout(),
		RateLimitInterval: conf.GetRateLimitInterval(),
		RateLimitBurst:    conf.GetRateLimitBurst(),
	})
}

func makeStores(conf configCache) (geolib.Store, geolib.Store, error) {
	if conf.GetBackend() != cacheBackendRistretto {
		return geolib.NewLRUStore(conf.GetSize(), conf.GetTTL()),
			geolib.NewLRUStore(conf.GetSize(), conf.GetBatchTTL()),
			nil
	}

	addressStore, err := geolib.NewRistrettoStore(conf.GetSize(), conf.GetTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create address store: %w", err)
	}

	batchStore, err := geolib.NewRistrettoStore(conf.GetSize(), conf.GetBatchTTL())
	if err != nil {
		addressStore.Close()

		return nil, nil, fmt.Errorf("cannot create batch store: %w", err)
	}

	return addressStore, batchStore, nil
}

// makeLookupCache returns a cache and a function which has to be
// called on exit: it shuts the cache down and closes providers.
func makeLookupCache(fs afero.Fs, conf *config, log *logger) (*geolib.LookupCache, []reloader, func(), error) {
	prov, reloaders, closers, err := makeProvider(fs, conf)
	if err != nil {
		return nil, nil, nil, err
	}

	addressStore, batchStore, err := makeStores(conf.Cache)
	if err != nil {
		closeAll(closers) // nolint: errcheck

		return nil, nil, nil, err
	}

	cache, err := geolib.NewLookupCache(prov, geolib.Opts{
		TTL:             conf.Cache.GetTTL(),
		BatchTTL:        conf.Cache.GetBatchTTL(),
		MaxBatchSize:    conf.Cache.GetMaxBatchSize(),
		ProviderTimeout: conf.GetProviderTimeout(),
		WorkerPoolSize:  conf.GetWorkerPoolSize(),
		AddressStore:    addressStore,
		BatchStore:      batchStore,
		Logger:          log,
	})
	if err != nil {
		addressStore.Close()
		batchStore.Close()
		closeAll(closers) // nolint: errcheck

		return nil, nil, nil, fmt.Errorf("cannot create lookup cache: %w", err)
	}

	closeFunc := func() {
		cache.Shutdown()

		if err := closeAll(closers); err != nil {
			log.appLog.Warn().Err(err).Msg("cannot close providers")
		}
	}

	return cache, reloaders, closeFunc, nil
}
