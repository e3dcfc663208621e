// Package middleware provides HTTP middleware for the licensehub admin API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"licensehub/internal/auth"
	"licensehub/internal/logging"
	"licensehub/internal/ratelimit"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// AuthContextKey is the context key for storing authentication info
	AuthContextKey contextKey = "auth"
)

// AuthInfo contains authenticated client information stored in request context
type AuthInfo struct {
	TokenID    string
	ClientName string
	Role       string
	// ExpiresAt is nil for non-expiring tokens
	ExpiresAt       *time.Time
	Source          auth.TokenSource
	AuthenticatedAt time.Time
}

// Actor returns the identifier recorded in audit entries for this client.
func (a *AuthInfo) Actor() string {
	return "token:" + a.ClientName
}

// GetAuthInfo retrieves authentication info from the request context.
// Returns nil if the request is not authenticated.
func GetAuthInfo(ctx context.Context) *AuthInfo {
	if info, ok := ctx.Value(AuthContextKey).(*AuthInfo); ok {
		return info
	}
	return nil
}

// AuthError represents an authentication error
type AuthError struct {
	Code    int    `json:"-"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Generic messages so responses don't reveal why a token was rejected.
var (
	ErrMissingToken = AuthError{
		Code:    http.StatusUnauthorized,
		Error:   "unauthorized",
		Message: "Authentication required",
	}
	ErrInvalidToken = AuthError{
		Code:    http.StatusUnauthorized,
		Error:   "unauthorized",
		Message: "Invalid or expired token",
	}
	ErrForbidden = AuthError{
		Code:    http.StatusForbidden,
		Error:   "forbidden",
		Message: "Access denied",
	}
	ErrTooManyAttempts = AuthError{
		Code:    http.StatusTooManyRequests,
		Error:   "too_many_requests",
		Message: "Too many failed authentication attempts",
	}
	errInternal = AuthError{
		Code:    http.StatusInternalServerError,
		Error:   "internal_error",
		Message: "Authentication unavailable",
	}
)

// TokenValidator resolves raw tokens. *auth.TokenStorage implements it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, rawToken string) (*auth.TokenInfo, error)
}

// AuthMiddleware provides HTTP authentication middleware
type AuthMiddleware struct {
	validator   TokenValidator
	skipPaths   map[string]bool
	logger      logging.Logger
	failures    *ratelimit.SlidingWindow
	now         func() time.Time
	onAuthError func(r *http.Request, err AuthError)
}

// AuthMiddlewareConfig contains configuration for AuthMiddleware
type AuthMiddlewareConfig struct {
	// SkipPaths is a list of paths that don't require authentication
	SkipPaths []string
	Logger    logging.Logger
	// FailureLimiter counts rejected tokens per client address. Once a
	// client reaches the limit every request from it gets 429 until the
	// window slides. Nil disables throttling.
	FailureLimiter *ratelimit.SlidingWindow
	// OnAuthError is called when authentication fails (for logging/metrics)
	OnAuthError func(r *http.Request, err AuthError)
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, config AuthMiddlewareConfig) *AuthMiddleware {
	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &AuthMiddleware{
		validator:   validator,
		skipPaths:   skipPaths,
		logger:      logger,
		failures:    config.FailureLimiter,
		now:         time.Now,
		onAuthError: config.OnAuthError,
	}
}

// Wrap wraps an http.Handler with authentication
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		client := clientAddr(r)
		if m.failures != nil {
			if d := m.failures.Check(client); !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
				m.sendError(w, r, ErrTooManyAttempts)
				return
			}
		}

		extracted := auth.ExtractToken(r)
		if extracted.Token == "" {
			if extracted.IsMalformed {
				m.recordFailure(client)
				m.sendError(w, r, ErrInvalidToken)
			} else {
				m.sendError(w, r, ErrMissingToken)
			}
			return
		}

		tokenInfo, err := m.validator.ValidateToken(r.Context(), extracted.Token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidToken):
				m.logger.Infof("token rejected from %s (source: %s): %v", client, extracted.Source, err)
				m.recordFailure(client)
				m.sendError(w, r, ErrInvalidToken)
			default:
				m.logger.Errorf("token validation failed: %v", err)
				m.sendError(w, r, errInternal)
			}
			return
		}

		info := &AuthInfo{
			TokenID:         tokenInfo.TokenID,
			ClientName:      tokenInfo.ClientName,
			Role:            tokenInfo.Role(),
			ExpiresAt:       tokenInfo.ExpiresAt,
			Source:          extracted.Source,
			AuthenticatedAt: m.now(),
		}
		m.logger.Debugf("authenticated client=%s path=%s source=%s", info.ClientName, r.URL.Path, extracted.Source)

		ctx := context.WithValue(r.Context(), AuthContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) recordFailure(client string) {
	if m.failures == nil {
		return
	}
	if d := m.failures.Allow(client); d.Remaining == 0 {
		m.logger.Warnf("client %s reached the failed authentication limit", client)
	}
}

// clientAddr is the request's remote host without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireRole rejects authenticated requests whose token lacks role. It must
// run after Wrap.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetAuthInfo(r.Context())
			if info == nil {
				m.sendError(w, r, ErrMissingToken)
				return
			}
			if info.Role != role {
				m.logger.Warnf("client %s with role %q denied %s %s", info.ClientName, info.Role, r.Method, r.URL.Path)
				m.sendError(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sendError sends an authentication error response
func (m *AuthMiddleware) sendError(w http.ResponseWriter, r *http.Request, authErr AuthError) {
	if m.onAuthError != nil {
		m.onAuthError(r, authErr)
	}

	w.Header().Set("Content-Type", "application/json")
	if authErr.Code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="licensehub"`)
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(authErr.Code)

	if err := json.NewEncoder(w).Encode(authErr); err != nil {
		m.logger.Warnf("failed to encode auth error response: %v", err)
	}
}
