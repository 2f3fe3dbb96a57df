package main

import (
	"crypto/subtle"
	"net/http"
)

type basicAuthMiddleware struct {
	handler  http.Handler
	user     []byte
	password []byte
}

func (b *basicAuthMiddleware) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	user, pass, _ := req.BasicAuth()

	if subtle.ConstantTimeCompare(b.user, []byte(user))+subtle.ConstantTimeCompare(b.password, []byte(pass)) == 2 {
		b.handler.ServeHTTP(w, req)

		return
	}

	w.Header().Set("WWW-Authenticate", `Basic realm="ipgeo admin"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"message":"Authentication is required","context":""}}`)) // nolint: errcheck
}

// newBasicAuth protects admin endpoints. If admin credentials are not
// configured, these endpoints are disabled completely.
func newBasicAuth(conf configAdmin) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !conf.Enabled() {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":{"message":"Admin endpoints are disabled","context":""}}`)) // nolint: errcheck
			})
		}

		return &basicAuthMiddleware{
			handler:  next,
			user:     []byte(conf.GetUser()),
			password: []byte(conf.GetPassword()),
		}
	}
}
