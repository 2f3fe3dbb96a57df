package geolib

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h httpHandler) handleAdminPurge(w http.ResponseWriter, _ *http.Request) {
	h.cache.Purge()

	w.WriteHeader(http.StatusNoContent)
}

func (h httpHandler) handleAdminInvalidate(w http.ResponseWriter, req *http.Request) {
	if err := h.cache.Invalidate(chi.URLParam(req, "ip")); err != nil {
		h.sendError(w, err, "Cannot invalidate IP address", statusCodeFor(err))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
