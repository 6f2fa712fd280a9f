package rates

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLE - Reference data with a flat default rack rate
// =============================================================================

// Role carries the lowest non-system fallback for role-billed work.
// Deleting a role referenced by any entry is rejected by the store.
type Role struct {
	ID              RoleID
	Name            string
	DefaultRackRate decimal.Decimal
	DefaultCostRate decimal.Decimal
}

func (r Role) validate() error {
	v := &ValidationError{}
	if r.ID == "" {
		v.add("id is required")
	}
	if r.Name == "" {
		v.add("name is required")
	}
	if r.DefaultRackRate.IsNegative() {
		v.add("default_rack_rate must be non-negative")
	}
	if r.DefaultCostRate.IsNegative() {
		v.add("default_cost_rate must be non-negative")
	}
	return v.orNil()
}

// =============================================================================
// PERSON - A named subject with optional stored default rates
// =============================================================================

// Person is a named subject. Default rates are optional: when unset the
// person's role default applies.
type Person struct {
	ID                 PersonID
	Name               string
	RoleID             RoleID
	DefaultBillingRate *decimal.Decimal
	DefaultCostRate    *decimal.Decimal
}

// HasDefaults reports whether the person carries their own flat fallback.
func (p Person) HasDefaults() bool { return p.DefaultBillingRate != nil }

func (p Person) validate() error {
	v := &ValidationError{}
	if p.ID == "" {
		v.add("id is required")
	}
	if p.Name == "" {
		v.add("name is required")
	}
	if p.DefaultBillingRate != nil && p.DefaultBillingRate.IsNegative() {
		v.add("default_billing_rate must be non-negative")
	}
	if p.DefaultCostRate != nil && p.DefaultCostRate.IsNegative() {
		v.add("default_cost_rate must be non-negative")
	}
	if p.DefaultCostRate != nil && p.DefaultBillingRate == nil {
		v.add("default_cost_rate requires default_billing_rate")
	}
	return v.orNil()
}

// =============================================================================
// ROLE CATALOG
// =============================================================================

type RoleCatalog struct {
	Roles  RoleStore
	People PersonStore
}

func (c *RoleCatalog) SaveRole(ctx context.Context, r Role) error {
	if err := r.validate(); err != nil {
		return err
	}
	return c.Roles.SaveRole(ctx, r)
}

func (c *RoleCatalog) Role(ctx context.Context, id RoleID) (*Role, error) {
	return c.Roles.GetRole(ctx, id)
}

func (c *RoleCatalog) ListRoles(ctx context.Context) ([]Role, error) {
	return c.Roles.ListRoles(ctx)
}

// DeleteRole fails with ErrRoleInUse while entries or people reference the role.
func (c *RoleCatalog) DeleteRole(ctx context.Context, id RoleID) error {
	return c.Roles.DeleteRole(ctx, id)
}

// SavePerson validates the person and that their role exists.
func (c *RoleCatalog) SavePerson(ctx context.Context, p Person) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.RoleID != "" {
		role, err := c.Roles.GetRole(ctx, p.RoleID)
		if err != nil {
			return err
		}
		if role == nil {
			return &ValidationError{Problems: []string{"role " + string(p.RoleID) + " does not exist"}}
		}
	}
	return c.People.SavePerson(ctx, p)
}

func (c *RoleCatalog) Person(ctx context.Context, id PersonID) (*Person, error) {
	return c.People.GetPerson(ctx, id)
}

func (c *RoleCatalog) ListPeople(ctx context.Context) ([]Person, error) {
	return c.People.ListPeople(ctx)
}
