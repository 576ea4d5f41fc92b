// Package identity carries the authenticated caller handed to the core by
// the upstream auth layer. The core trusts it and does its own
// business-level checks.
package identity

import "context"

type Role string

const (
	RoleConsumer Role = "consumer"
	RoleBusiness Role = "business"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleBusiness, RoleAdmin:
		return true
	}
	return false
}

type Principal struct {
	UserID string
	Role   Role
	Email  string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// System is used for sweeps and payment callbacks.
var System = Principal{UserID: "system", Role: RoleAdmin}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
