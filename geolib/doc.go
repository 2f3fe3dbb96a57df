// This package provides a cache-aside lookup layer for IP geolocation.
//
// geolib is core of the ipgeo project. The rest of the application is
// a thin wrapper around it: CLI, configuration, logging and metrics.
// Providers are pluggable and live in their own package.
//
// LookupCache is a main entity of the geolib. It validates addresses,
// consults a cache and only on miss goes to a provider. Each result
// is normalized into a Result where unknown fields are explicitly marked
// with Unknown sentinel instead of being empty.
//
// LookupCache also can act as http.Handler, see NewHTTPHandler.
package geolib
