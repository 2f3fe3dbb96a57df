package main

import (
	"io"
	"net/http"
	"time"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

type logger struct {
	lookupLog zerolog.Logger
	updateLog zerolog.Logger
	statsLog  zerolog.Logger
	accessLog zerolog.Logger
	appLog    zerolog.Logger
}

func (l *logger) LookupError(ip string, name string, err error) {
	l.lookupLog.Error().Str("provider", name).Str("ip", ip).Err(err).Msg("")
}

func (l *logger) UpdateInfo(name, msg string) {
	l.updateLog.Info().Str("provider", name).Msg(msg)
}

func (l *logger) UpdateError(name string, err error) {
	l.updateLog.Error().Str("provider", name).Err(err).Msg("")
}

func (l *logger) Stats(stats geolib.Stats) {
	l.statsLog.Info().
		Int("entries", stats.Entries).
		Int("address_entries", stats.AddressEntries).
		Int("batch_entries", stats.BatchEntries).
		Uint64("hits", stats.Hits).
		Uint64("misses", stats.Misses).
		Float64("hit_rate", stats.HitRate).
		Uint64("batch_hits", stats.BatchHits).
		Uint64("batch_misses", stats.BatchMisses).
		Msg("")
}

// AccessLog is a middleware which logs every request with its id.
// Incoming X-Request-ID is reused, otherwise a new one is generated.
func (l *logger) AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := req.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)

		wrapped := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		startTime := time.Now()

		defer func() {
			l.accessLog.Info().
				Str("request_id", requestID).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_addr", req.RemoteAddr).
				Int("status", wrapped.Status()).
				Int("bytes", wrapped.BytesWritten()).
				Dur("elapsed", time.Since(startTime)).
				Msg("")
		}()

		next.ServeHTTP(wrapped, req)
	})
}

func newLogger(writer io.Writer, debug bool) *logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	base := zerolog.New(writer).With().Timestamp().Logger()

	return &logger{
		lookupLog: base.With().Str("event_name", "lookup").Logger(),
		updateLog: base.With().Str("event_name", "update").Logger(),
		statsLog:  base.With().Str("event_name", "stats").Logger(),
		accessLog: base.With().Str("event_name", "access").Logger(),
		appLog:    base.With().Str("event_name", "app").Logger(),
	}
}
