// ABOUTME: HTTP middleware that resolves the calling identity for API endpoints
// ABOUTME: Supports JWT bearer tokens or an identity header set by a trusted upstream

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Godpassdev247/talent-horizon/internal/store"
)

// DefaultTrustedHeader carries the caller's identity id when authentication
// is done by an upstream proxy.
const DefaultTrustedHeader = "X-Identity-ID"

// IdentityStore is what the middleware needs to resolve callers.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id int64) (*store.Identity, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// resolveIdentity loads the identity behind an authenticated id. It returns
// an HTTP status and message when the caller cannot be admitted.
func resolveIdentity(ctx context.Context, identities IdentityStore, id int64, method string, logger *slog.Logger) (*AuthContext, int, string) {
	ident, err := identities.GetIdentity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusUnauthorized, "identity not found"
	}
	if err != nil {
		logger.Error("resolving caller identity", "identity_id", id, "error", err)
		return nil, http.StatusServiceUnavailable, "internal error"
	}
	return &AuthContext{
		IdentityID:  ident.ID,
		Role:        ident.Role,
		DisplayName: ident.DisplayName,
		Method:      method,
	}, 0, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// It looks up the identity and adds AuthContext to the request context.
func HTTPAuthMiddleware(identities IdentityStore, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			identityID, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
				return
			}

			authCtx, status, msg := resolveIdentity(r.Context(), identities, identityID, "jwt", logger)
			if authCtx == nil {
				http.Error(w, `{"error":"`+msg+`"}`, status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// TrustedHeaderMiddleware admits callers by the identity id an upstream
// proxy placed in header. Only use it behind a proxy that strips the header
// from client requests.
func TrustedHeaderMiddleware(identities IdentityStore, header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultTrustedHeader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				http.Error(w, `{"error":"missing identity header"}`, http.StatusUnauthorized)
				return
			}

			identityID, err := ParseIdentityID(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid identity header"}`, http.StatusUnauthorized)
				return
			}

			authCtx, status, msg := resolveIdentity(r.Context(), identities, identityID, "trusted_header", logger)
			if authCtx == nil {
				http.Error(w, `{"error":"`+msg+`"}`, status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
