// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"slices"
)

// Role is the business role an actor acts under.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleAppro      Role = "APPRO"
	RoleProduction Role = "PRODUCTION"
	RoleCommercial Role = "COMMERCIAL"
	// RoleSystem is carried by scheduled jobs and by automatic workflow steps.
	RoleSystem Role = "SYSTEM"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAppro, RoleProduction, RoleCommercial, RoleSystem:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (r Role) String() string { return string(r) }

// Actor identifies who performs a ledger operation.
type Actor struct {
	ID   string `json:"id" validate:"required"`
	Role Role   `json:"role" validate:"required"`
}

// SystemActor returns the actor used by background jobs and automatic approvals.
func SystemActor(component string) Actor {
	return Actor{ID: "system:" + component, Role: RoleSystem}
}

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool { return a.ID == "" && a.Role == "" }

// Is reports whether the actor holds one of roles.
func (a Actor) Is(roles ...Role) bool {
	return slices.Contains(roles, a.Role)
}

type actorContextKey struct{}

// WithActor adds Actor to context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns Actor from context.
func GetActor(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(Actor)
	return a, ok
}

// GetActorID returns actor ID from context or empty string.
func GetActorID(ctx context.Context) string {
	if a, ok := GetActor(ctx); ok {
		return a.ID
	}
	return ""
}
