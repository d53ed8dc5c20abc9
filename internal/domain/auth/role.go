// Package auth resolves API callers into principals and decides what they may
// do. Capability checks are pure functions evaluated before any unit of work.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrForbidden is returned when a principal lacks a capability.
var ErrForbidden = errors.New("forbidden")

// Role is the coarse permission level of a principal.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a stored role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleGuest, RoleCustomer, RoleAdmin:
		return r, nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

// Capability is a single permitted action.
type Capability string

const (
	CapCreateOrder     Capability = "order:create"
	CapViewOwnOrder    Capability = "order:view-own"
	CapViewAnyOrder    Capability = "order:view-any"
	CapCreatePayment   Capability = "payment:create"
	CapConfirmPayment  Capability = "payment:confirm"
	CapManageInventory Capability = "inventory:manage"
)

var grants = map[Role][]Capability{
	RoleGuest: {
		CapCreateOrder, CapCreatePayment, CapConfirmPayment,
	},
	RoleCustomer: {
		CapCreateOrder, CapCreatePayment, CapConfirmPayment, CapViewOwnOrder,
	},
	RoleAdmin: {
		CapCreateOrder, CapCreatePayment, CapConfirmPayment, CapViewOwnOrder,
		CapViewAnyOrder, CapManageInventory,
	},
}

// Principal is the caller on whose behalf a request runs.
type Principal struct {
	UserID string
	Role   Role
}

// Guest is the principal of unauthenticated callers.
var Guest = Principal{Role: RoleGuest}

// Can reports whether p holds capability c.
func Can(p Principal, c Capability) bool {
	for _, g := range grants[p.Role] {
		if g == c {
			return true
		}
	}
	return false
}

// CanViewOrder reports whether p may read an order owned by ownerID. Guest
// orders (empty owner) are visible to admins only.
func CanViewOrder(p Principal, ownerID string) bool {
	if Can(p, CapViewAnyOrder) {
		return true
	}
	return Can(p, CapViewOwnOrder) && ownerID != "" && p.UserID == ownerID
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or Guest.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Guest
}
