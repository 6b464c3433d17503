// Package auth scopes callers to the companies they may act on.
package auth

import (
	"context"
	"fmt"
)

// Wildcard grants access to every company.
const Wildcard = "*"

// ForbiddenError indicates the caller is not scoped to a company.
type ForbiddenError struct {
	ActorID   string
	CompanyID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s has no access to company %s", e.ActorID, e.CompanyID)
}

// Principal is an authenticated caller.
type Principal struct {
	ActorID   string
	Companies []string
}

// Allows reports whether the principal may act on companyID.
func (p Principal) Allows(companyID string) bool {
	for _, c := range p.Companies {
		if c == Wildcard || c == companyID {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError unless the principal may act on
// companyID.
func (p Principal) Require(companyID string) error {
	if p.Allows(companyID) {
		return nil
	}
	return ForbiddenError{ActorID: p.ActorID, CompanyID: companyID}
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
