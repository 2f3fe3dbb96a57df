package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/9seconds/ipgeo/providers"
	"github.com/hjson/hjson-go"
)

const (
	DefaultListen            = "127.0.0.1:8000"
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultRateLimitInterval = 100 * time.Millisecond
	DefaultRateLimitBurst    = 10
	DefaultReloadSchedule    = "@every 1h"
	DefaultStatsSchedule     = "@every 5m"

	cacheBackendLRU       = "lru"
	cacheBackendRistretto = "ristretto"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v interface{}

	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("cannot unmarshal duration: %w", err)
	}

	vv, ok := v.(string)
	if !ok {
		return fmt.Errorf("incorrect duration: %v", v)
	}

	dur, err := time.ParseDuration(vv)
	if err != nil {
		return fmt.Errorf("cannot parse duration: %w", err)
	}

	if dur < 0 {
		return fmt.Errorf("duration should be positive: %s", vv)
	}

	d.Duration = dur

	return nil
}

type config struct {
	Listen          string           `json:"listen"`
	Cache           configCache      `json:"cache"`
	ProviderTimeout duration         `json:"provider_timeout"`
	WorkerPoolSize  uint             `json:"worker_pool_size"`
	Providers       []configProvider `json:"providers"`
	ReloadSchedule  string           `json:"reload_schedule"`
	StatsSchedule   string           `json:"stats_schedule"`
	Admin           configAdmin      `json:"admin"`
}

func (c config) GetListen() string {
	if c.Listen != "" {
		return c.Listen
	}

	return DefaultListen
}

func (c config) GetProviderTimeout() time.Duration {
	if c.ProviderTimeout.Duration == 0 {
		return geolib.DefaultProviderTimeout
	}

	return c.ProviderTimeout.Duration
}

func (c config) GetWorkerPoolSize() int {
	if c.WorkerPoolSize == 0 {
		return geolib.DefaultWorkerPoolSize
	}

	return int(c.WorkerPoolSize)
}

func (c config) GetProviders() []configProvider {
	return c.Providers
}

func (c config) GetReloadSchedule() string {
	if c.ReloadSchedule != "" {
		return c.ReloadSchedule
	}

	return DefaultReloadSchedule
}

func (c config) GetStatsSchedule() string {
	if c.StatsSchedule != "" {
		return c.StatsSchedule
	}

	return DefaultStatsSchedule
}

type configCache struct {
	Backend      string   `json:"backend"`
	Size         uint     `json:"size"`
	TTL          duration `json:"ttl"`
	BatchTTL     duration `json:"batch_ttl"`
	MaxBatchSize uint     `json:"max_batch_size"`
}

func (c configCache) GetBackend() string {
	if c.Backend != "" {
		return c.Backend
	}

	return cacheBackendLRU
}

func (c configCache) GetSize() int {
	if c.Size == 0 {
		return geolib.DefaultStoreSize
	}

	return int(c.Size)
}

func (c configCache) GetTTL() time.Duration {
	if c.TTL.Duration == 0 {
		return geolib.DefaultTTL
	}

	return c.TTL.Duration
}

func (c configCache) GetBatchTTL() time.Duration {
	if c.BatchTTL.Duration == 0 {
		return geolib.DefaultBatchTTL
	}

	return c.BatchTTL.Duration
}

func (c configCache) GetMaxBatchSize() int {
	if c.MaxBatchSize == 0 {
		return geolib.DefaultMaxBatchSize
	}

	return int(c.MaxBatchSize)
}

type configAdmin struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (c configAdmin) Enabled() bool {
	return c.GetUser() != "" || c.GetPassword() != ""
}

func (c configAdmin) GetUser() string {
	return os.ExpandEnv(c.User)
}

// GetPassword expands environment variables, so it is possible to
// have something like "$IPGEO_ADMIN_PASSWORD" in config.
func (c configAdmin) GetPassword() string {
	return os.ExpandEnv(c.Password)
}

type configProvider struct {
	Name              string   `json:"name"`
	CityDB            string   `json:"city_db"`
	ISPDB             string   `json:"isp_db"`
	AuthToken         string   `json:"auth_token"`
	HTTPTimeout       duration `json:"http_timeout"`
	RateLimitInterval duration `json:"rate_limit_interval"`
	RateLimitBurst    uint     `json:"rate_limit_burst"`
}

func (c configProvider) GetName() string {
	return c.Name
}

func (c configProvider) GetCityDB() string {
	return c.CityDB
}

func (c configProvider) GetISPDB() string {
	return c.ISPDB
}

func (c configProvider) GetAuthToken() string {
	return os.ExpandEnv(c.AuthToken)
}

func (c configProvider) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout.Duration == 0 {
		return DefaultHTTPTimeout
	}

	return c.HTTPTimeout.Duration
}

func (c configProvider) GetRateLimitInterval() time.Duration {
	if c.RateLimitInterval.Duration == 0 {
		return DefaultRateLimitInterval
	}

	return c.RateLimitInterval.Duration
}

func (c configProvider) GetRateLimitBurst() int {
	if c.RateLimitBurst == 0 {
		return DefaultRateLimitBurst
	}

	return int(c.RateLimitBurst)
}

func parseConfig(reader io.Reader) (*config, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	conf := config{}
	rawMap := map[string]interface{}{}

	if err := hjson.Unmarshal(content, &rawMap); err != nil {
		return nil, fmt.Errorf("cannot parse hjson: %w", err)
	}

	rawBytes, err := json.Marshal(rawMap)
	if err != nil {
		return nil, fmt.Errorf("cannot convert hjson: %w", err)
	}

	if err := json.Unmarshal(rawBytes, &conf); err != nil {
		return nil, fmt.Errorf("incorrect config: %w", err)
	}

	if _, _, err := net.SplitHostPort(conf.GetListen()); err != nil {
		return nil, fmt.Errorf("incorrect host:port for listen: %w", err)
	}

	switch conf.Cache.GetBackend() {
	case cacheBackendLRU, cacheBackendRistretto:
	default:
		return nil, fmt.Errorf("unsupported cache backend %s", conf.Cache.GetBackend())
	}

	if len(conf.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	seenProviderNames := map[string]struct{}{}

	for _, v := range conf.Providers {
		if _, ok := seenProviderNames[v.GetName()]; ok {
			return nil, fmt.Errorf("name %s is duplicated", v.GetName())
		}

		seenProviderNames[v.GetName()] = struct{}{}

		switch v.GetName() {
		case providers.NameMaxmind:
			if v.GetCityDB() == "" {
				return nil, fmt.Errorf("city_db is required for %s", v.GetName())
			}
		case providers.NameIPInfo:
		default:
			return nil, fmt.Errorf("unsupported provider name: %s", v.GetName())
		}
	}

	return &conf, nil
}
