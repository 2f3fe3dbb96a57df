package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ipgeo"

type metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
}

// Middleware observes duration of every request. Route patterns are
// used as labels so /lookup/{ip} is a single series.
func (m *metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wrapped := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		startTime := time.Now()

		next.ServeHTTP(wrapped, req)

		route := "unknown"

		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.requestDuration.
			WithLabelValues(req.Method, route, strconv.Itoa(wrapped.Status())).
			Observe(time.Since(startTime).Seconds())
	})
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func newMetrics(cache *geolib.LookupCache) *metrics {
	registry := prometheus.NewRegistry()
	rv := &metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	cacheCounter := func(name, help string, getter func(geolib.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(getter(cache.Stats()))
		})
	}

	cacheGauge := func(name, help string, getter func(geolib.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return getter(cache.Stats())
		})
	}

	registry.MustRegister(
		rv.requestDuration,
		cacheCounter("hits_total", "Number of address lookups served from cache",
			func(s geolib.Stats) uint64 { return s.Hits }),
		cacheCounter("misses_total", "Number of address lookups which went to provider",
			func(s geolib.Stats) uint64 { return s.Misses }),
		cacheCounter("batch_hits_total", "Number of batches served from cache",
			func(s geolib.Stats) uint64 { return s.BatchHits }),
		cacheCounter("batch_misses_total", "Number of batches resolved address by address",
			func(s geolib.Stats) uint64 { return s.BatchMisses }),
		cacheGauge("address_entries", "Number of cached addresses",
			func(s geolib.Stats) float64 { return float64(s.AddressEntries) }),
		cacheGauge("batch_entries", "Number of cached batches",
			func(s geolib.Stats) float64 { return float64(s.BatchEntries) }),
		cacheGauge("hit_rate", "Ratio of address lookups served from cache",
			func(s geolib.Stats) float64 { return s.HitRate }),
		collectors.NewGoCollector(),
	)

	return rv
}
