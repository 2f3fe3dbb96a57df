package geolib

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type httpHandler struct {
	cache *LookupCache
}

func (h httpHandler) encodeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	encoder := json.NewEncoder(w)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder.SetEscapeHTML(false)
	encoder.Encode(data) // nolint: errcheck
}

func (h httpHandler) sendError(w http.ResponseWriter, err error, message string, statusCode int) {
	e := &httpError{
		message:    message,
		statusCode: statusCode,
		err:        err,
	}

	h.encodeJSON(w, e.StatusCode(), e)
}

func (h httpHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := h.cache.Ready(); err != nil {
		h.sendError(w, err, "Provider is not ready", http.StatusServiceUnavailable)

		return
	}

	h.encodeJSON(w, http.StatusOK, struct {
		Provider string `json:"provider"`
		Ready    bool   `json:"ready"`
	}{
		Provider: h.cache.ProviderName(),
		Ready:    true,
	})
}

// NewHTTPHandler returns a handler which exposes LookupCache as JSON
// API:
//
//	GET    /                  - lookup an address of the caller
//	GET    /lookup/{ip}       - lookup a single address
//	POST   /lookup            - lookup a batch: {"ips": [...]}
//	GET    /stats             - cache statistics
//	GET    /healthz           - readiness of the provider
//	DELETE /admin/cache       - purge the cache
//	DELETE /admin/cache/{ip}  - invalidate a single address
//
// Admin routes are wrapped with given middlewares.
func NewHTTPHandler(cache *LookupCache, adminMiddlewares ...func(http.Handler) http.Handler) http.Handler {
	handler := httpHandler{
		cache: cache,
	}
	router := chi.NewRouter()

	router.Use(middleware.RealIP)
	router.Get("/", handler.handleGetSelf)
	router.Get("/lookup/{ip}", handler.handleGetIP)
	router.Post("/lookup", handler.handlePost)
	router.Get("/stats", handler.handleGetStats)
	router.Get("/healthz", handler.handleHealth)

	router.Route("/admin", func(r chi.Router) {
		r.Use(adminMiddlewares...)
		r.Delete("/cache", handler.handleAdminPurge)
		r.Delete("/cache/{ip}", handler.handleAdminInvalidate)
	})

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handler.sendError(w, nil, "Unknown endpoint", http.StatusNotFound)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		handler.sendError(w, nil, "This HTTP method is not allowed", http.StatusMethodNotAllowed)
	})

	return router
}
