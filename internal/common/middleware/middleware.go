package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
)

// Context keys
type contextKey string

const (
	CorrelationIDKey     contextKey = "correlation_id"
	BankCodeKey          contextKey = "bank_code"
	PrincipalIDKey       contextKey = "principal_id"
	PrincipalKindKey     contextKey = "principal_kind"
	PrincipalClientIDKey contextKey = "principal_client_id"
	PrincipalScopesKey   contextKey = "principal_scopes"
	RequestIDKey         contextKey = "request_id"
)

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetBankCode retrieves the bank code from context
func GetBankCode(ctx context.Context) string {
	if v, ok := ctx.Value(BankCodeKey).(string); ok {
		return v
	}
	return ""
}

// GetPrincipalID retrieves the authenticated principal's id from context
// (a client id, institution id, or staff id depending on PrincipalKind).
func GetPrincipalID(ctx context.Context) string {
	if v, ok := ctx.Value(PrincipalIDKey).(string); ok {
		return v
	}
	return ""
}

// GetPrincipalKind retrieves the token class of the caller: "client",
// "institution", or "staff".
func GetPrincipalKind(ctx context.Context) string {
	if v, ok := ctx.Value(PrincipalKindKey).(string); ok {
		return v
	}
	return ""
}

// GetPrincipalClientID retrieves the client an institution token acts on
// behalf of (empty for client and staff tokens).
func GetPrincipalClientID(ctx context.Context) string {
	if v, ok := ctx.Value(PrincipalClientIDKey).(string); ok {
		return v
	}
	return ""
}

// GetPrincipalScopes retrieves the scopes granted to the caller's token.
func GetPrincipalScopes(ctx context.Context) []string {
	if v, ok := ctx.Value(PrincipalScopesKey).([]string); ok {
		return v
	}
	return nil
}

// CorrelationID middleware adds a correlation ID to each request
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ulid.Make().String()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a structured logging middleware
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"correlation_id", GetCorrelationID(r.Context()),
					"bank_code", GetBankCode(r.Context()),
					"principal_kind", GetPrincipalKind(r.Context()),
					"user_agent", r.UserAgent(),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer recovers from panics and logs them
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"correlation_id", GetCorrelationID(r.Context()),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]interface{}{
						"error": map[string]string{
							"code":    "INTERNAL_ERROR",
							"message": "An unexpected error occurred",
						},
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// BankCodeExtractor extracts the bank code from a header, since this
// system runs as a single bank rather than a multi-tenant SaaS.
func BankCodeExtractor(bankCode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.Header.Get("X-Bank-Code")
			if code == "" {
				code = bankCode
			}
			ctx := context.WithValue(r.Context(), BankCodeKey, code)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Principal is the authenticated caller resolved from a bearer token.
type Principal struct {
	Kind     string // "client", "institution", or "staff"
	ID       string
	ClientID string // populated for institution tokens acting on behalf of a client
	Scopes   []string
}

// TokenVerifier verifies a bearer token and resolves its principal.
// Implemented by internal/token.Service; kept as a narrow interface here
// so this package never imports the token package directly.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// BearerAuth validates the Authorization: Bearer <token> header against
// a TokenVerifier and attaches the resolved principal to the context.
func BearerAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, PrincipalIDKey, principal.ID)
			ctx = context.WithValue(ctx, PrincipalKindKey, principal.Kind)
			ctx = context.WithValue(ctx, PrincipalClientIDKey, principal.ClientID)
			ctx = context.WithValue(ctx, PrincipalScopesKey, principal.Scopes)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdempotencyKey provides idempotency handling
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (response []byte, found bool, err error)
	Set(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get("Idempotency-Key")
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			cached, found, err := store.Get(r.Context(), idempotencyKey)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if found {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				_, _ = w.Write(cached)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: make([]byte, 0)}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				_ = store.Set(r.Context(), idempotencyKey, rec.body, ttl)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// CORS middleware
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID, X-Bank-Code, Idempotency-Key")
				w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-ID, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit provides basic rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

func RateLimit(limiter RateLimiter, keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ContentType sets the content type header
func ContentType(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// JSON is a convenience for ContentType("application/json")
func JSON(next http.Handler) http.Handler {
	return ContentType("application/json")(next)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
