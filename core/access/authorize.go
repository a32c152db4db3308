package access

import (
	"context"

	"github.com/pkg/errors"
)

// Principal is the caller a data-access operation runs on behalf of.
type Principal struct {
	CallerID string
	Role     Role
}

// OwnershipFunc reports whether the principal owns the entity an operation targets.
// Lookup errors (e.g. not found) are returned as is.
type OwnershipFunc func(ctx context.Context, p Principal) (bool, error)

// Policy is the requirement of a single operation: one of Roles (any role when empty) and,
// when Owns is set, ownership of the target entity. Admins pass ownership checks.
type Policy struct {
	Roles []Role
	Owns  OwnershipFunc
}

func Require(roles ...Role) Policy {
	return Policy{Roles: roles}
}

// Owned returns a copy of pol that also requires ownership.
func (pol Policy) Owned(owns OwnershipFunc) Policy {
	pol.Owns = owns
	return pol
}

// Authorize checks p against pol.
func Authorize(ctx context.Context, p Principal, pol Policy) error {
	if p.CallerID == "" {
		return ErrUnauthenticated
	}
	if !p.Role.Valid() {
		return ErrNoRole
	}
	if len(pol.Roles) > 0 && !p.Role.In(pol.Roles...) {
		return ErrForbidden
	}
	if pol.Owns == nil || p.Role == RoleAdmin {
		return nil
	}

	ok, err := pol.Owns(ctx, p)
	if err != nil {
		return errors.Wrap(err, "checking ownership")
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// Guard runs op only when p satisfies pol.
func Guard(ctx context.Context, p Principal, pol Policy, op func() error) error {
	if err := Authorize(ctx, p, pol); err != nil {
		return err
	}
	return op()
}
