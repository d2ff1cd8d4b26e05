package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/retail-admin/fulfillment/internal/platform/httpx"
	"github.com/retail-admin/fulfillment/internal/platform/requestctx"
)

const (
	roleClaim            = "role"
	emailClaim           = "email"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	ErrTokenExpired = errors.New("auth: id token expired")
	ErrTokenInvalid = errors.New("auth: id token invalid")
)

// TokenVerifier verifies bearer ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator guards routes behind Firebase ID tokens carrying staff roles.
type Authenticator struct {
	verifier TokenVerifier
}

func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Require admits requests whose identity holds at least one of roles. The identity is stored on
// the context and its UID recorded as the request actor.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			token, err := a.verifier.VerifyIDToken(ctx, raw)
			if err != nil {
				writeVerificationError(ctx, w, err)
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, emailClaim),
				Roles: rolesFromClaim(token.Claims[roleClaim]),
				token: token,
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(authenticated(ctx, identity)))
		})
	}
}

// RequireStaticIdentity attaches identity to every request without verification. It backs the
// local environment when authentication is disabled.
func RequireStaticIdentity(identity Identity, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity
			if len(roles) > 0 && !id.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("permission_denied", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(authenticated(r.Context(), &id)))
		})
	}
}

func authenticated(ctx context.Context, identity *Identity) context.Context {
	return requestctx.WithActor(WithIdentity(ctx, identity), identity.UID)
}

// rolesFromClaim accepts a single role string, a list of roles or a {role: bool} map.
func rolesFromClaim(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case []string:
		candidates = v
	case map[string]any:
		for role, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				candidates = append(candidates, role)
			}
		}
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		role := normaliseRole(c)
		if _, dup := seen[role]; role == "" || dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "id token expired", http.StatusUnauthorized))
	case firebaseauth.IsIDTokenRevoked(err):
		httpx.WriteError(ctx, w, httpx.NewError("token_revoked", "id token revoked", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "id token verification failed", http.StatusUnauthorized))
	}
}
