// ABOUTME: HTTP middleware for request ids, access logging and idempotent POST replay
// ABOUTME: Idempotency-Key replays come from the dedupe cache, scoped per caller and route

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Godpassdev247/talent-horizon/internal/auth"
	"github.com/Godpassdev247/talent-horizon/internal/dedupe"
)

const (
	// RequestIDHeader is echoed on every response.
	RequestIDHeader = "X-Request-ID"
	// IdempotencyKeyHeader lets clients retry POSTs safely.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency cache.
	ReplayedHeader = "Idempotent-Replayed"

	maxRequestIDLength      = 128
	maxIdempotencyKeyLength = 255
)

type requestIDKey struct{}

// RequestIDFromContext returns the request id assigned by requestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestLogger tags logger with the request id carried by ctx.
func requestLogger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return logger.With("request_id", id)
	}
	return logger
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// requestIDMiddleware assigns every request an id (reusing a sane inbound
// X-Request-ID) and logs the outcome at debug.
func requestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, id)

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

			logger.Debug("http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}

// bufferedResponse records a handler's output so it can be stored for replay
// while still being written to the client.
type bufferedResponse struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

// idempotencyMiddleware replays the recorded response for a repeated
// Idempotency-Key. Keys are scoped to the caller, method and path. Responses
// with a 5xx status are not recorded so the client can retry them.
// Must run inside the auth middleware.
func idempotencyMiddleware(cache *dedupe.Cache, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				sendJSONError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			caller := auth.MustFromContext(r.Context())
			cacheKey := fmt.Sprintf("%d|%s|%s|%s", caller.IdentityID, r.Method, r.URL.Path, key)

			resp, state := cache.Begin(cacheKey)
			switch state {
			case dedupe.StateDone:
				requestLogger(r.Context(), logger).Debug("replaying idempotent request", "path", r.URL.Path)
				if resp.ContentType != "" {
					w.Header().Set("Content-Type", resp.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(resp.Status)
				_, _ = w.Write(resp.Body)
				return
			case dedupe.StateInFlight:
				sendJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			}

			buf := &bufferedResponse{ResponseWriter: w}
			completed := false
			defer func() {
				if !completed {
					cache.Abandon(cacheKey)
				}
			}()

			next.ServeHTTP(buf, r)

			if buf.status == 0 || buf.status >= http.StatusInternalServerError {
				return
			}
			cache.Complete(cacheKey, dedupe.Response{
				Status:      buf.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        buf.body.Bytes(),
			})
			completed = true
		})
	}
}
