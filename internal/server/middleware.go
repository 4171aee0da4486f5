package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/futarchia/foresight/internal/auth"
	"github.com/futarchia/foresight/internal/model"
	"github.com/futarchia/foresight/internal/storage"
	"github.com/futarchia/foresight/internal/telemetry"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyClaims    contextKey = "claims"
)

// RequestIDFromContext returns the request ID injected by the requestID
// middleware, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ClaimsFromContext returns the authenticated claims, or nil for
// unauthenticated requests.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(ctxKeyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// requestIDMiddleware assigns each request a unique ID, honoring an
// incoming X-Request-ID if present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeadersMiddleware sets standard security response headers.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status code for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// tracingMiddleware opens a span per request and records request count and
// latency metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("foresight/server")
	meter := telemetry.Meter("foresight/server")
	requests, _ := meter.Int64Counter("foresight.http.requests",
		metric.WithDescription("HTTP requests by method and status"),
	)
	latency, _ := meter.Float64Histogram("foresight.http.latency_ms",
		metric.WithDescription("HTTP request latency in milliseconds"),
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", sw.status),
		)
		requests.Add(ctx, 1, attrs)
		latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}

// loggingMiddleware logs each request after completion.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// authMiddleware validates the Bearer token on every route except the
// health check, the OpenAPI document, and the token exchange itself.
func authMiddleware(jwtMgr *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/openapi.yaml" ||
				(r.Method == http.MethodPost && r.URL.Path == "/auth/token") {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing bearer token")
				return
			}

			claims, err := jwtMgr.ValidateToken(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recoveryMiddleware converts panics into 500 responses with a logged
// stack trace.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", RequestIDFromContext(r.Context()),
						"stack", string(debug.Stack()),
					)
					writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requireRole gates a route to the listed roles.
func requireRole(roles ...model.AgentRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
				fmt.Sprintf("role %s may not access this resource", claims.Role))
		})
	}
}

// writeJSON writes a success response in the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeList writes a paginated list response in the standard envelope.
func writeList(w http.ResponseWriter, r *http.Request, data any, count, limit, offset int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:    data,
		HasMore: count == limit,
		Limit:   limit,
		Offset:  offset,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeError writes an error response in the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// decodeJSON decodes a request body into target with a size cap and strict
// field checking. Writes the error response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return false
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeDomainError maps domain errors onto HTTP statuses and stable API
// error codes. Anything unrecognized becomes a logged 500.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		eligErr   *model.EligibilityError
		timingErr *model.TimingError
		boundsErr *model.BoundsError
	)
	switch {
	case errors.As(err, &eligErr):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeIneligible, eligErr.Error())
	case errors.As(err, &timingErr):
		writeError(w, r, http.StatusConflict, model.ErrCodeTiming, timingErr.Error())
	case errors.As(err, &boundsErr):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBounds, boundsErr.Error())
	case errors.Is(err, model.ErrProofReplayed):
		writeError(w, r, http.StatusConflict, model.ErrCodeReplay, "identity proof already consumed")
	case errors.Is(err, model.ErrProofInvalid):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "identity proof invalid")
	case errors.Is(err, model.ErrUpdateCooldown):
		writeError(w, r, http.StatusConflict, model.ErrCodeTiming, err.Error())
	case errors.Is(err, model.ErrAlreadyClaimed):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "position already claimed")
	case errors.Is(err, model.ErrNoPosition):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no position on this market")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	default:
		h.writeInternalError(w, r, "request failed", err)
	}
}

// writeInternalError logs the underlying error and writes a generic 500
// so internals never leak to callers.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}
