package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/shardlink/internal/infrastructure/logging"
)

type contextKey int

const ctxKeyRequestID contextKey = iota

// maxRequestIDLen caps an inbound X-Request-ID. Longer or non-printable
// values are replaced.
const maxRequestIDLen = 64

// requestIDMiddleware tags each request with an ID, reusing a valid inbound
// X-Request-ID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// requestID returns the ID set by requestIDMiddleware, or "".
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	return id
}

// requestLogger returns the server logger tagged with the request's ID.
func (s *Server) requestLogger(r *http.Request) *logging.Logger {
	return s.logger.With("request_id", requestID(r))
}

// loggingMiddleware logs each request. Reads and scrapes go to debug;
// anything that changes the paired device list is logged at info, and
// server errors at warn.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		log := s.requestLogger(r).Debug
		switch {
		case sw.status >= http.StatusInternalServerError:
			log = s.requestLogger(r).Warn
		case r.Method != http.MethodGet && r.Method != http.MethodHead:
			log = s.requestLogger(r).Info
		}
		log("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 carrying the request ID.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.requestLogger(r).Error("panic in operations handler",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
