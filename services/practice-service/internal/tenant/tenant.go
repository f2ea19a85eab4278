// Package tenant resolves a request to an organization and carries that
// identity explicitly into every core call.
package tenant

import (
	"context"
	"strings"
)

// ID identifies an organization. Every storage lookup filters on it.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) Valid() bool { return strings.TrimSpace(string(id)) != "" }

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleClient Role = "client"
)

// Principal is the authenticated caller. Org comes from the verified token,
// never from the request body or headers.
type Principal struct {
	Subject string
	Org     ID
	Role    Role
}

func (p Principal) IsStaff() bool {
	switch p.Role {
	case RoleOwner, RoleAdmin, RoleStaff:
		return true
	}
	return false
}

// CanActFor reports whether p may operate on the given client's records.
// Clients authenticate with their client id as subject.
func (p Principal) CanActFor(clientID string) bool {
	return p.IsStaff() || (p.Role == RoleClient && p.Subject == clientID)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.Org.Valid()
}
