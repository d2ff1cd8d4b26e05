package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the "role" custom claim of staff accounts.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the authenticated staff member behind a request.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token is the verified ID token, nil for identities minted without Firebase.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity holds role. Admins implicitly hold the staff role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	if slices.Contains(i.Roles, role) {
		return true
	}
	return role == RoleStaff && slices.Contains(i.Roles, RoleAdmin)
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
