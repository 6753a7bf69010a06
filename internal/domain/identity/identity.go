// Package identity describes the authenticated caller and the one authorization rule every
// service applies to it.
package identity

import (
	"context"
	"strings"
)

const RoleAdmin = "admin"

type Principal struct {
	UserID string
	Role   string
	Name   string
	Email  string
}

func (p Principal) Authenticated() bool { return p.UserID != "" }

func (p Principal) HasRole(role string) bool { return role != "" && p.Role == role }

// Allowed is the authorization predicate: the caller owns the resource or holds the role.
func (p Principal) Allowed(ownerID, role string) bool {
	if !p.Authenticated() {
		return false
	}
	return (ownerID != "" && p.UserID == ownerID) || p.HasRole(role)
}

// SplitName returns first and last name, splitting on the first space.
func (p Principal) SplitName() (first, last string) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return "", ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}

type principalKey struct{}

func With(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// From returns the caller stored by the auth middleware.
func From(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Authenticated()
}
