package geolib

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type handleResultResponse struct {
	Result Result `json:"result"`
}

func (h httpHandler) handleGetSelf(w http.ResponseWriter, req *http.Request) {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		// middleware.RealIP sets a bare address
		host = req.RemoteAddr
	}

	h.lookup(w, req, host)
}

func (h httpHandler) handleGetIP(w http.ResponseWriter, req *http.Request) {
	h.lookup(w, req, chi.URLParam(req, "ip"))
}

func (h httpHandler) lookup(w http.ResponseWriter, req *http.Request, ip string) {
	resolved, err := h.cache.Lookup(req.Context(), ip)
	if err != nil {
		h.sendError(w, err, "Cannot resolve IP address", statusCodeFor(err))

		return
	}

	statusCode := http.StatusOK
	if resolved.NotFound() {
		statusCode = http.StatusNotFound
	}

	h.encodeJSON(w, statusCode, handleResultResponse{
		Result: resolved,
	})
}

func (h httpHandler) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	h.encodeJSON(w, http.StatusOK, h.cache.Stats())
}
