/*
resolver.go - Rate resolution hierarchy

PURPOSE:
  Answers "what billing and cost rate applies to this subject on this day in
  this project/client?" by walking an ordered list of strategies until one
  produces a rate.

PRIORITY ORDER (first billing match wins):
  1. project_override  RateOverride scope=project, scopeID=ctx.ProjectID
  2. client_override   RateOverride scope=client,  scopeID=ctx.ClientID
  3. schedule          person's RateSchedule covering the date (persons only)
  4. person_default    person's stored default rates
     role_default      role's default rack rate (role subject, or the
                       person's role when the person has no defaults)
  5. system_default    SystemDefaults (zero unless configured)

  The order is data: DefaultStrategies returns the slice, and callers may
  build their own. Adding or reordering a tier never touches Resolve.

COST RATE:
  Overrides are negotiated billing rates and carry no cost. When the billing
  tier has no cost, Resolve keeps walking the cost-bearing tiers below it;
  CostSource records which one answered.

NEVER FAILS ON MISSING CONFIGURATION:
  system_default always answers, so an unconfigured subject resolves to $0
  with Source=system_default. Only store I/O errors are returned.

NO ROUNDING:
  Values pass through exactly as stored. Rounding happens in adjustment.go.

SEE ALSO:
  - override.go: OverrideBook.ResolveAt and the tie-break
  - schedule.go: scheduleAt containment
  - bulk.go: Recalculate mode calls Resolve per entry
*/
package rates

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SOURCES
// =============================================================================

// Source tags which tier produced a rate.
type Source string

const (
	SourceProjectOverride Source = "project_override"
	SourceClientOverride  Source = "client_override"
	SourceSchedule        Source = "schedule"
	SourcePersonDefault   Source = "person_default"
	SourceRoleDefault     Source = "role_default"
	SourceSystemDefault   Source = "system_default"

	// SourceBulkOverride marks rates written literally by a bulk override.
	SourceBulkOverride Source = "bulk_override"
)

// =============================================================================
// RESOLUTION TYPES
// =============================================================================

// ResolveContext scopes a resolution to a project and client.
type ResolveContext struct {
	ProjectID string
	ClientID  string
}

// Resolution is the resolved pair plus the explanation of where it came from.
type Resolution struct {
	BillingRate decimal.Decimal
	CostRate    decimal.Decimal
	Source      Source
	CostSource  Source
	OverrideID  OverrideID
	ScheduleID  ScheduleID
	Warnings    []AmbiguousOverrideWarning
}

// ResolveRequest is what each strategy sees.
type ResolveRequest struct {
	Subject Subject
	AsOf    Date
	Context ResolveContext

	// Person is loaded once by Resolve for person subjects (nil if unknown).
	Person *Person
}

// Candidate is a strategy's answer. Nil fields mean "nothing to offer".
type Candidate struct {
	Billing    *decimal.Decimal
	Cost       *decimal.Decimal
	OverrideID OverrideID
	ScheduleID ScheduleID
	Warning    *AmbiguousOverrideWarning
}

// Strategy is one tier of the hierarchy.
type Strategy interface {
	Source() Source

	// ProvidesCost reports whether the tier can ever answer a cost rate.
	ProvidesCost() bool

	// TryResolve returns nil when the tier has nothing for the request.
	TryResolve(ctx context.Context, req ResolveRequest) (*Candidate, error)
}

// RateSources is the read side the default strategies need.
type RateSources interface {
	ScheduleStore
	OverrideStore
	RoleStore
	PersonStore
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	People     PersonStore
	Strategies []Strategy
	Logger     *slog.Logger
}

// NewResolver builds the standard hierarchy over sources with the given
// system defaults as the final tier.
func NewResolver(sources RateSources, defaults SystemDefaults, logger *slog.Logger) *Resolver {
	return &Resolver{
		People:     sources,
		Strategies: DefaultStrategies(sources, defaults, logger),
		Logger:     logger,
	}
}

// DefaultStrategies returns the five-tier order. Both override tiers share
// one OverrideBook, so ambiguous matches are logged through logger.
func DefaultStrategies(sources RateSources, defaults SystemDefaults, logger *slog.Logger) []Strategy {
	overrides := NewOverrideBook(sources, logger)
	return []Strategy{
		&OverrideStrategy{Scope: ScopeProject, Overrides: overrides},
		&OverrideStrategy{Scope: ScopeClient, Overrides: overrides},
		&ScheduleStrategy{Schedules: sources},
		&PersonDefaultStrategy{},
		&RoleDefaultStrategy{Roles: sources},
		&SystemDefaultStrategy{Defaults: defaults},
	}
}

// Resolve walks the strategies in order. The billing rate comes from the
// first tier that answers; the cost rate from the first tier at or below it
// that carries a cost.
func (r *Resolver) Resolve(ctx context.Context, subject Subject, asOf Date, rc ResolveContext) (Resolution, error) {
	req := ResolveRequest{Subject: subject, AsOf: asOf, Context: rc}
	if subject.IsPerson() && r.People != nil {
		p, err := r.People.GetPerson(ctx, PersonID(subject.ID))
		if err != nil {
			return Resolution{}, err
		}
		req.Person = p
	}

	var res Resolution
	haveBilling := false

	for _, st := range r.Strategies {
		if haveBilling && !st.ProvidesCost() {
			continue
		}

		c, err := st.TryResolve(ctx, req)
		if err != nil {
			return Resolution{}, err
		}
		if c == nil {
			continue
		}
		if c.Warning != nil {
			res.Warnings = append(res.Warnings, *c.Warning)
		}

		if !haveBilling {
			if c.Billing == nil {
				continue
			}
			haveBilling = true
			res.BillingRate = *c.Billing
			res.Source = st.Source()
			res.OverrideID = c.OverrideID
			res.ScheduleID = c.ScheduleID
		}

		if c.Cost != nil {
			res.CostRate = *c.Cost
			res.CostSource = st.Source()
			break
		}
	}

	logger(r.Logger).Debug("rate resolved",
		"subject", subject.String(),
		"as_of", asOf.String(),
		"project_id", rc.ProjectID,
		"client_id", rc.ClientID,
		"source", res.Source,
		"cost_source", res.CostSource,
	)
	return res, nil
}

// =============================================================================
// STRATEGIES
// =============================================================================

// OverrideStrategy resolves a project- or client-scoped override through
// the OverrideBook.
type OverrideStrategy struct {
	Scope     Scope
	Overrides *OverrideBook
}

func (s *OverrideStrategy) Source() Source {
	if s.Scope == ScopeProject {
		return SourceProjectOverride
	}
	return SourceClientOverride
}

func (s *OverrideStrategy) ProvidesCost() bool { return false }

func (s *OverrideStrategy) TryResolve(ctx context.Context, req ResolveRequest) (*Candidate, error) {
	scopeID := req.Context.ClientID
	if s.Scope == ScopeProject {
		scopeID = req.Context.ProjectID
	}

	chosen, warning, err := s.Overrides.ResolveAt(ctx, s.Scope, scopeID, req.Subject, req.AsOf)
	if err != nil || chosen == nil {
		return nil, err
	}
	return &Candidate{
		Billing:    decimalPtr(chosen.BillingRate()),
		OverrideID: chosen.ID,
		Warning:    warning,
	}, nil
}

// ScheduleStrategy resolves the person's effective-dated schedule.
type ScheduleStrategy struct {
	Schedules ScheduleStore
}

func (s *ScheduleStrategy) Source() Source     { return SourceSchedule }
func (s *ScheduleStrategy) ProvidesCost() bool { return true }

func (s *ScheduleStrategy) TryResolve(ctx context.Context, req ResolveRequest) (*Candidate, error) {
	if !req.Subject.IsPerson() {
		return nil, nil
	}
	schedules, err := s.Schedules.SchedulesFor(ctx, PersonID(req.Subject.ID))
	if err != nil {
		return nil, err
	}
	sched := scheduleAt(schedules, req.AsOf)
	if sched == nil {
		return nil, nil
	}
	return &Candidate{
		Billing:    decimalPtr(sched.BillingRate),
		Cost:       decimalPtr(sched.CostRate),
		ScheduleID: sched.ID,
	}, nil
}

// PersonDefaultStrategy uses the person's own flat default rates.
type PersonDefaultStrategy struct{}

func (s *PersonDefaultStrategy) Source() Source     { return SourcePersonDefault }
func (s *PersonDefaultStrategy) ProvidesCost() bool { return true }

func (s *PersonDefaultStrategy) TryResolve(_ context.Context, req ResolveRequest) (*Candidate, error) {
	if req.Person == nil || !req.Person.HasDefaults() {
		return nil, nil
	}
	return &Candidate{
		Billing: req.Person.DefaultBillingRate,
		Cost:    req.Person.DefaultCostRate,
	}, nil
}

// RoleDefaultStrategy uses the role's default rack rate: the subject's role
// for role-billed work, the person's role for named work.
type RoleDefaultStrategy struct {
	Roles RoleStore
}

func (s *RoleDefaultStrategy) Source() Source     { return SourceRoleDefault }
func (s *RoleDefaultStrategy) ProvidesCost() bool { return true }

func (s *RoleDefaultStrategy) TryResolve(ctx context.Context, req ResolveRequest) (*Candidate, error) {
	var roleID RoleID
	switch {
	case req.Subject.IsRole():
		roleID = RoleID(req.Subject.ID)
	case req.Person != nil:
		roleID = req.Person.RoleID
	}
	if roleID == "" {
		return nil, nil
	}

	role, err := s.Roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, nil
	}
	return &Candidate{
		Billing: decimalPtr(role.DefaultRackRate),
		Cost:    decimalPtr(role.DefaultCostRate),
	}, nil
}

// SystemDefaultStrategy always answers.
type SystemDefaultStrategy struct {
	Defaults SystemDefaults
}

func (s *SystemDefaultStrategy) Source() Source     { return SourceSystemDefault }
func (s *SystemDefaultStrategy) ProvidesCost() bool { return true }

func (s *SystemDefaultStrategy) TryResolve(context.Context, ResolveRequest) (*Candidate, error) {
	return &Candidate{
		Billing: decimalPtr(s.Defaults.DefaultBillingRate),
		Cost:    decimalPtr(s.Defaults.DefaultCostRate),
	}, nil
}
