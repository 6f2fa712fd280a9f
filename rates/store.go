/*
store.go - Persistence interfaces for the rate engine

PURPOSE:
  Defines the boundary between the engine and the persistence collaborator.
  The engine never talks SQL; it asks for typed finds, gets and saves, and
  wraps multi-write operations in WithTx.

KEY INTERFACES:
  ScheduleStore: person rate schedules (insert + auto-close only)
  OverrideStore: client/project overrides (permissive, CRUD)
  RoleStore:     role catalog
  PersonStore:   people and their stored default rates
  SettingsStore: the SystemDefaults singleton
  EntryStore:    time entries; rate writes are scoped to EntryRates
  TxStore:       all of the above plus WithTx

SCHEDULE APPEND-ONLY CONTRACT:
  Schedules are inserted and, exactly once, closed by auto-close. There is no
  general update or delete for schedules.

SCOPED ENTRY WRITES:
  UpdateEntryRates writes only the rate/adjusted columns and only while the
  entry is neither locked nor invoiced. It reports false (no error) when the
  guard rejects the write, so a concurrent lock shows up as a skip.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (production)
  - rates/store/memory.go:  in-memory (tests, demos)
*/
package rates

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

type ScheduleStore interface {
	// SchedulesFor returns a person's schedules ordered by EffectiveStart.
	SchedulesFor(ctx context.Context, personID PersonID) ([]RateSchedule, error)

	// InsertSchedule appends a new schedule.
	InsertSchedule(ctx context.Context, s RateSchedule) error

	// CloseSchedule sets EffectiveEnd on an open schedule.
	CloseSchedule(ctx context.Context, id ScheduleID, end Date) error
}

type OverrideStore interface {
	// MatchingOverrides returns every override for scope+subject regardless of dates.
	MatchingOverrides(ctx context.Context, scope Scope, scopeID string, subject Subject) ([]RateOverride, error)

	ListOverrides(ctx context.Context, filter OverrideFilter) ([]RateOverride, error)
	SaveOverride(ctx context.Context, o RateOverride) error

	// DeleteOverride returns ErrNotFound for unknown IDs.
	DeleteOverride(ctx context.Context, id OverrideID) error
}

type RoleStore interface {
	// GetRole returns nil, nil when the role doesn't exist.
	GetRole(ctx context.Context, id RoleID) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	SaveRole(ctx context.Context, r Role) error

	// DeleteRole returns ErrRoleInUse when entries or people reference the role.
	DeleteRole(ctx context.Context, id RoleID) error
}

type PersonStore interface {
	// GetPerson returns nil, nil when the person doesn't exist.
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	ListPeople(ctx context.Context) ([]Person, error)
	SavePerson(ctx context.Context, p Person) error
}

type SettingsStore interface {
	// GetSystemDefaults returns the zero-valued defaults when none were saved.
	GetSystemDefaults(ctx context.Context) (SystemDefaults, error)
	SaveSystemDefaults(ctx context.Context, d SystemDefaults) error
}

type EntryStore interface {
	// FindEntries returns matching entries (locked ones included) ordered by
	// WorkDate, then ID.
	FindEntries(ctx context.Context, filter Filter) ([]TimeEntry, error)

	// GetEntry returns nil, nil when the entry doesn't exist.
	GetEntry(ctx context.Context, id EntryID) (*TimeEntry, error)
	InsertEntry(ctx context.Context, e TimeEntry) error

	// UpdateEntryRates writes only the rate slice, guarded by
	// locked = false AND invoiced = false. Returns false when the guard or a
	// missing ID prevented the write.
	UpdateEntryRates(ctx context.Context, id EntryID, r EntryRates) (bool, error)

	// SetEntryFlags records downstream consumption (lock / invoice).
	SetEntryFlags(ctx context.Context, id EntryID, locked, invoiced bool) error
}

// Store is the full persistence collaborator.
type Store interface {
	ScheduleStore
	OverrideStore
	RoleStore
	PersonStore
	SettingsStore
	EntryStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn is
	// rolled back. If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
