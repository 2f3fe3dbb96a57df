// ipgeo is a caching IP geolocation service.
//
// It answers a simple question: where does this IP address come from?
// Answers are taken from a provider, a local MaxMind database or a
// remote ipinfo.io API, and kept in a cache with expiration so
// repeated questions are cheap.
//
// Tool is organized into 3 logical parts:
//
// Geolib
//
// geolib contains LookupCache: address normalization, per-address
// and per-batch caching, single-flight deduplication of concurrent
// lookups and HTTP API. It knows nothing about concrete providers.
//
// Providers
//
// This package has provider implementations: MaxMind databases which
// are reloaded from disk, ipinfo.io and a chain which asks several
// providers one by one.
//
// Main
//
// A main package wires geolib and providers together. It reads a
// config, starts HTTP server with metrics and admin endpoints, and
// schedules database reloads.
package main
