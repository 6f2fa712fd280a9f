/*
Package sqlite provides a SQLite-backed implementation of rates.TxStore.

PURPOSE:
  Implements every persistence interface the rate engine needs (schedules,
  overrides, roles, people, system defaults, time entries) using SQLite. In
  production the same patterns apply to PostgreSQL with minor dialect
  differences.

INTERFACES IMPLEMENTED:
  rates.Store:   typed finds, gets and saves
  rates.TxStore: WithTx over *sql.Tx

KEY TABLES:
  roles:           role catalog with default rack/cost rate
  people:          named subjects, optional default rates
  rate_schedules:  effective-dated person rates (append + auto-close only)
  rate_overrides:  client/project negotiated rates (overlaps allowed)
  system_defaults: single-row last-resort rates
  time_entries:    logged effort plus the rate snapshot

MONEY AT REST:
  Rates and amounts are TEXT with exactly 2 fractional digits
  (rates.FormatAmount). Effort and factors are TEXT as entered. Nothing is a
  REAL column.

INTEGRITY BACKSTOPS:
  The engine enforces the schedule partition; the schema backs it up:
  - UNIQUE(person_id, effective_start) on rate_schedules
  - idx_one_open_schedule: at most one open schedule per person
  - time_entries.role_id REFERENCES roles(id): a role in use cannot be
    deleted (mapped to rates.ErrRoleInUse)

SCOPED ENTRY WRITES:
  UpdateEntryRates touches only the rate/adjusted columns and carries
  "AND locked = 0 AND invoiced = 0" in its WHERE clause. A row locked after
  the engine read it is simply not updated.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction; the transactional view talks to *sql.Tx only.

USAGE:
  store, err := sqlite.New("./data/rates.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := rates.NewService(store, rates.ServiceConfig{}, logger)

SEE ALSO:
  - rates/store.go: interface definitions
  - rates/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/rates"
)

// Store implements rates.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Roles
	CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		default_rack_rate TEXT NOT NULL,
		default_cost_rate TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- People (named subjects)
	CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role_id TEXT REFERENCES roles(id),
		default_billing_rate TEXT,
		default_cost_rate TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_people_role
		ON people(role_id);

	-- Rate schedules (append-only, one auto-close per row)
	CREATE TABLE IF NOT EXISTS rate_schedules (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL REFERENCES people(id),
		effective_start TEXT NOT NULL,
		effective_end TEXT,
		billing_rate TEXT NOT NULL,
		cost_rate TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(person_id, effective_start)
	);

	-- CRITICAL: at most one open-ended schedule per person
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_schedule
		ON rate_schedules(person_id) WHERE effective_end IS NULL;

	-- Rate overrides (admin-entered, overlaps permitted)
	CREATE TABLE IF NOT EXISTS rate_overrides (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL CHECK (scope IN ('client', 'project')),
		scope_id TEXT NOT NULL,
		subject_kind TEXT NOT NULL CHECK (subject_kind IN ('person', 'role')),
		subject_id TEXT NOT NULL,
		effective_start TEXT NOT NULL,
		effective_end TEXT,
		rack_rate TEXT NOT NULL,
		charge_rate TEXT,
		created_at TEXT NOT NULL
	);

	-- Override lookup (hot path during resolution)
	CREATE INDEX IF NOT EXISTS idx_overrides_scope_subject
		ON rate_overrides(scope, scope_id, subject_kind, subject_id);

	-- System defaults (singleton)
	CREATE TABLE IF NOT EXISTS system_defaults (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		default_billing_rate TEXT NOT NULL,
		default_cost_rate TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Time entries (effort + rate snapshot)
	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		person_id TEXT REFERENCES people(id),
		role_id TEXT REFERENCES roles(id),
		project_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		work_date TEXT NOT NULL,
		base_hours TEXT NOT NULL,
		quantity_factor TEXT NOT NULL,
		size TEXT NOT NULL,
		complexity TEXT NOT NULL,
		confidence TEXT NOT NULL,
		billing_rate TEXT NOT NULL,
		cost_rate TEXT NOT NULL,
		rate_source TEXT NOT NULL,
		adjusted_hours TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		invoiced INTEGER NOT NULL DEFAULT 0,
		description TEXT,
		created_at TEXT NOT NULL,
		CHECK (person_id IS NOT NULL OR role_id IS NOT NULL)
	);

	-- Bulk filters: subject + date range, project + date range
	CREATE INDEX IF NOT EXISTS idx_entries_subject_date
		ON time_entries(COALESCE(person_id, role_id), work_date);
	CREATE INDEX IF NOT EXISTS idx_entries_project_date
		ON time_entries(project_id, work_date);
	CREATE INDEX IF NOT EXISTS idx_entries_role
		ON time_entries(role_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ACCESS (rates.Store interface)
// =============================================================================

func (s *Store) direct() *conn { return &conn{q: s.db} }

func (s *Store) SchedulesFor(ctx context.Context, personID rates.PersonID) ([]rates.RateSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().SchedulesFor(ctx, personID)
}

func (s *Store) InsertSchedule(ctx context.Context, sched rates.RateSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertSchedule(ctx, sched)
}

func (s *Store) CloseSchedule(ctx context.Context, id rates.ScheduleID, end rates.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().CloseSchedule(ctx, id, end)
}

func (s *Store) MatchingOverrides(ctx context.Context, scope rates.Scope, scopeID string, subject rates.Subject) ([]rates.RateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().MatchingOverrides(ctx, scope, scopeID, subject)
}

func (s *Store) ListOverrides(ctx context.Context, filter rates.OverrideFilter) ([]rates.RateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListOverrides(ctx, filter)
}

func (s *Store) SaveOverride(ctx context.Context, o rates.RateOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveOverride(ctx, o)
}

func (s *Store) DeleteOverride(ctx context.Context, id rates.OverrideID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteOverride(ctx, id)
}

func (s *Store) GetRole(ctx context.Context, id rates.RoleID) (*rates.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetRole(ctx, id)
}

func (s *Store) ListRoles(ctx context.Context) ([]rates.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListRoles(ctx)
}

func (s *Store) SaveRole(ctx context.Context, r rates.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveRole(ctx, r)
}

func (s *Store) DeleteRole(ctx context.Context, id rates.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().DeleteRole(ctx, id)
}

func (s *Store) GetPerson(ctx context.Context, id rates.PersonID) (*rates.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetPerson(ctx, id)
}

func (s *Store) ListPeople(ctx context.Context) ([]rates.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().ListPeople(ctx)
}

func (s *Store) SavePerson(ctx context.Context, p rates.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SavePerson(ctx, p)
}

func (s *Store) GetSystemDefaults(ctx context.Context) (rates.SystemDefaults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetSystemDefaults(ctx)
}

func (s *Store) SaveSystemDefaults(ctx context.Context, d rates.SystemDefaults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SaveSystemDefaults(ctx, d)
}

func (s *Store) FindEntries(ctx context.Context, filter rates.Filter) ([]rates.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().FindEntries(ctx, filter)
}

func (s *Store) GetEntry(ctx context.Context, id rates.EntryID) (*rates.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct().GetEntry(ctx, id)
}

func (s *Store) InsertEntry(ctx context.Context, e rates.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().InsertEntry(ctx, e)
}

func (s *Store) UpdateEntryRates(ctx context.Context, id rates.EntryID, r rates.EntryRates) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().UpdateEntryRates(ctx, id, r)
}

func (s *Store) SetEntryFlags(ctx context.Context, id rates.EntryID, locked, invoiced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct().SetEntryFlags(ctx, id, locked, invoiced)
}

// =============================================================================
// TRANSACTIONS (rates.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store rates.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - Shared by Store (over *sql.DB) and WithTx (over *sql.Tx)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries without locking; callers hold Store.mu.
type conn struct {
	q querier
}

// --- schedules ---

const scheduleColumns = `id, person_id, effective_start, effective_end, billing_rate, cost_rate, notes, created_at`

func (c *conn) SchedulesFor(ctx context.Context, personID rates.PersonID) ([]rates.RateSchedule, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM rate_schedules WHERE person_id = ? ORDER BY effective_start",
		personID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []rates.RateSchedule
	for rows.Next() {
		var sched rates.RateSchedule
		var start, createdAt string
		var end, notes sql.NullString
		if err := rows.Scan(&sched.ID, &sched.PersonID, &start, &end,
			&sched.BillingRate, &sched.CostRate, &notes, &createdAt); err != nil {
			return nil, err
		}
		if sched.EffectiveStart, err = rates.ParseDate(start); err != nil {
			return nil, err
		}
		if sched.EffectiveEnd, err = parseNullDate(end); err != nil {
			return nil, err
		}
		sched.Notes = notes.String
		sched.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (c *conn) InsertSchedule(ctx context.Context, sched rates.RateSchedule) error {
	query := `
		INSERT INTO rate_schedules
		(id, person_id, effective_start, effective_end, billing_rate, cost_rate, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		sched.ID,
		sched.PersonID,
		sched.EffectiveStart.String(),
		nullDate(sched.EffectiveEnd),
		rates.FormatAmount(sched.BillingRate),
		rates.FormatAmount(sched.CostRate),
		nullString(sched.Notes),
		formatTime(sched.CreatedAt),
	)
	switch {
	case isUniqueConstraintError(err):
		return fmt.Errorf("schedule for %s starting %s: %w", sched.PersonID, sched.EffectiveStart, rates.ErrOverlap)
	case isForeignKeyError(err):
		return fmt.Errorf("person %s: %w", sched.PersonID, rates.ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func (c *conn) CloseSchedule(ctx context.Context, id rates.ScheduleID, end rates.Date) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE rate_schedules SET effective_end = ? WHERE id = ? AND effective_end IS NULL",
		end.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close schedule: %w", err)
	}
	return requireRow(res, "open schedule "+string(id))
}

// --- overrides ---

const overrideColumns = `id, scope, scope_id, subject_kind, subject_id, effective_start, effective_end, rack_rate, charge_rate, created_at`

func (c *conn) MatchingOverrides(ctx context.Context, scope rates.Scope, scopeID string, subject rates.Subject) ([]rates.RateOverride, error) {
	return c.queryOverrides(ctx,
		"SELECT "+overrideColumns+` FROM rate_overrides
		 WHERE scope = ? AND scope_id = ? AND subject_kind = ? AND subject_id = ?
		 ORDER BY effective_start, id`,
		scope, scopeID, subject.Kind, subject.ID,
	)
}

func (c *conn) ListOverrides(ctx context.Context, filter rates.OverrideFilter) ([]rates.RateOverride, error) {
	var where []string
	var args []any
	if filter.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, filter.Scope)
	}
	if filter.ScopeID != "" {
		where = append(where, "scope_id = ?")
		args = append(args, filter.ScopeID)
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	return c.queryOverrides(ctx,
		"SELECT "+overrideColumns+" FROM rate_overrides"+whereClause(where)+" ORDER BY effective_start, id",
		args...,
	)
}

func (c *conn) queryOverrides(ctx context.Context, query string, args ...any) ([]rates.RateOverride, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []rates.RateOverride
	for rows.Next() {
		var o rates.RateOverride
		var start, createdAt string
		var end sql.NullString
		var charge decimal.NullDecimal
		if err := rows.Scan(&o.ID, &o.Scope, &o.ScopeID, &o.Subject.Kind, &o.Subject.ID,
			&start, &end, &o.RackRate, &charge, &createdAt); err != nil {
			return nil, err
		}
		if o.EffectiveStart, err = rates.ParseDate(start); err != nil {
			return nil, err
		}
		if o.EffectiveEnd, err = parseNullDate(end); err != nil {
			return nil, err
		}
		if charge.Valid {
			o.ChargeRate = rates.DecimalPtr(charge.Decimal)
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func (c *conn) SaveOverride(ctx context.Context, o rates.RateOverride) error {
	query := `
		INSERT INTO rate_overrides
		(id, scope, scope_id, subject_kind, subject_id, effective_start, effective_end, rack_rate, charge_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope,
			scope_id = excluded.scope_id,
			subject_kind = excluded.subject_kind,
			subject_id = excluded.subject_id,
			effective_start = excluded.effective_start,
			effective_end = excluded.effective_end,
			rack_rate = excluded.rack_rate,
			charge_rate = excluded.charge_rate
	`
	_, err := c.q.ExecContext(ctx, query,
		o.ID, o.Scope, o.ScopeID, o.Subject.Kind, o.Subject.ID,
		o.EffectiveStart.String(),
		nullDate(o.EffectiveEnd),
		rates.FormatAmount(o.RackRate),
		nullAmount(o.ChargeRate),
		formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

func (c *conn) DeleteOverride(ctx context.Context, id rates.OverrideID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM rate_overrides WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, "override "+string(id))
}

// --- roles ---

func (c *conn) GetRole(ctx context.Context, id rates.RoleID) (*rates.Role, error) {
	var r rates.Role
	err := c.q.QueryRowContext(ctx,
		"SELECT id, name, default_rack_rate, default_cost_rate FROM roles WHERE id = ?",
		id,
	).Scan(&r.ID, &r.Name, &r.DefaultRackRate, &r.DefaultCostRate)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *conn) ListRoles(ctx context.Context) ([]rates.Role, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT id, name, default_rack_rate, default_cost_rate FROM roles ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rates.Role
	for rows.Next() {
		var r rates.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.DefaultRackRate, &r.DefaultCostRate); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (c *conn) SaveRole(ctx context.Context, r rates.Role) error {
	query := `
		INSERT INTO roles (id, name, default_rack_rate, default_cost_rate, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_rack_rate = excluded.default_rack_rate,
			default_cost_rate = excluded.default_cost_rate
	`
	_, err := c.q.ExecContext(ctx, query,
		r.ID, r.Name,
		rates.FormatAmount(r.DefaultRackRate),
		rates.FormatAmount(r.DefaultCostRate),
		formatTime(time.Now()),
	)
	return err
}

func (c *conn) DeleteRole(ctx context.Context, id rates.RoleID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", id)
	if isForeignKeyError(err) {
		return fmt.Errorf("role %s: %w", id, rates.ErrRoleInUse)
	}
	if err != nil {
		return err
	}
	return requireRow(res, "role "+string(id))
}

// --- people ---

func (c *conn) GetPerson(ctx context.Context, id rates.PersonID) (*rates.Person, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, role_id, default_billing_rate, default_cost_rate FROM people WHERE id = ?",
		id,
	)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *conn) ListPeople(ctx context.Context) ([]rates.Person, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT id, name, role_id, default_billing_rate, default_cost_rate FROM people ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []rates.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

func scanPerson(row interface{ Scan(dest ...any) error }) (rates.Person, error) {
	var p rates.Person
	var roleID sql.NullString
	var billing, cost decimal.NullDecimal
	if err := row.Scan(&p.ID, &p.Name, &roleID, &billing, &cost); err != nil {
		return rates.Person{}, err
	}
	p.RoleID = rates.RoleID(roleID.String)
	if billing.Valid {
		p.DefaultBillingRate = rates.DecimalPtr(billing.Decimal)
	}
	if cost.Valid {
		p.DefaultCostRate = rates.DecimalPtr(cost.Decimal)
	}
	return p, nil
}

func (c *conn) SavePerson(ctx context.Context, p rates.Person) error {
	query := `
		INSERT INTO people (id, name, role_id, default_billing_rate, default_cost_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role_id = excluded.role_id,
			default_billing_rate = excluded.default_billing_rate,
			default_cost_rate = excluded.default_cost_rate
	`
	_, err := c.q.ExecContext(ctx, query,
		p.ID, p.Name,
		nullString(string(p.RoleID)),
		nullAmount(p.DefaultBillingRate),
		nullAmount(p.DefaultCostRate),
		formatTime(time.Now()),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("role %s: %w", p.RoleID, rates.ErrNotFound)
	}
	return err
}

// --- settings ---

func (c *conn) GetSystemDefaults(ctx context.Context) (rates.SystemDefaults, error) {
	var d rates.SystemDefaults
	err := c.q.QueryRowContext(ctx,
		"SELECT default_billing_rate, default_cost_rate FROM system_defaults WHERE id = 1",
	).Scan(&d.DefaultBillingRate, &d.DefaultCostRate)

	if err == sql.ErrNoRows {
		return rates.SystemDefaults{}, nil
	}
	return d, err
}

func (c *conn) SaveSystemDefaults(ctx context.Context, d rates.SystemDefaults) error {
	query := `
		INSERT INTO system_defaults (id, default_billing_rate, default_cost_rate, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			default_billing_rate = excluded.default_billing_rate,
			default_cost_rate = excluded.default_cost_rate,
			updated_at = excluded.updated_at
	`
	_, err := c.q.ExecContext(ctx, query,
		rates.FormatAmount(d.DefaultBillingRate),
		rates.FormatAmount(d.DefaultCostRate),
		formatTime(time.Now()),
	)
	return err
}

// --- entries ---

const entryColumns = `id, person_id, role_id, project_id, client_id, work_date,
	base_hours, quantity_factor, size, complexity, confidence,
	billing_rate, cost_rate, rate_source, adjusted_hours, total_amount,
	locked, invoiced, description, created_at`

func (c *conn) FindEntries(ctx context.Context, filter rates.Filter) ([]rates.TimeEntry, error) {
	var where []string
	var args []any
	if filter.SubjectID != "" {
		where = append(where, "COALESCE(person_id, role_id) = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.StartDate != nil {
		where = append(where, "work_date >= ?")
		args = append(args, filter.StartDate.String())
	}
	if filter.EndDate != nil {
		where = append(where, "work_date <= ?")
		args = append(args, filter.EndDate.String())
	}

	rows, err := c.q.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM time_entries"+whereClause(where)+" ORDER BY work_date, id",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []rates.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (c *conn) GetEntry(ctx context.Context, id rates.EntryID) (*rates.TimeEntry, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM time_entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(row interface{ Scan(dest ...any) error }) (rates.TimeEntry, error) {
	var e rates.TimeEntry
	var personID, roleID, description sql.NullString
	var workDate, createdAt string
	err := row.Scan(
		&e.ID, &personID, &roleID, &e.ProjectID, &e.ClientID, &workDate,
		&e.BaseHours, &e.QuantityFactor, &e.Size, &e.Complexity, &e.Confidence,
		&e.BillingRate, &e.CostRate, &e.RateSource, &e.AdjustedHours, &e.TotalAmount,
		&e.Locked, &e.Invoiced, &description, &createdAt,
	)
	if err != nil {
		return rates.TimeEntry{}, err
	}
	e.PersonID = rates.PersonID(personID.String)
	e.RoleID = rates.RoleID(roleID.String)
	e.Description = description.String
	if e.WorkDate, err = rates.ParseDate(workDate); err != nil {
		return rates.TimeEntry{}, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

func (c *conn) InsertEntry(ctx context.Context, e rates.TimeEntry) error {
	query := `
		INSERT INTO time_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		e.ID,
		nullString(string(e.PersonID)),
		nullString(string(e.RoleID)),
		e.ProjectID,
		e.ClientID,
		e.WorkDate.String(),
		e.BaseHours.String(),
		e.QuantityFactor.String(),
		e.Size,
		e.Complexity,
		e.Confidence,
		rates.FormatAmount(e.BillingRate),
		rates.FormatAmount(e.CostRate),
		e.RateSource,
		rates.FormatAmount(e.AdjustedHours),
		rates.FormatAmount(e.TotalAmount),
		e.Locked,
		e.Invoiced,
		nullString(e.Description),
		formatTime(e.CreatedAt),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("entry %s references an unknown person or role: %w", e.ID, rates.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (c *conn) UpdateEntryRates(ctx context.Context, id rates.EntryID, r rates.EntryRates) (bool, error) {
	query := `
		UPDATE time_entries SET
			billing_rate = ?,
			cost_rate = ?,
			rate_source = ?,
			adjusted_hours = ?,
			total_amount = ?
		WHERE id = ? AND locked = 0 AND invoiced = 0
	`
	res, err := c.q.ExecContext(ctx, query,
		rates.FormatAmount(r.BillingRate),
		rates.FormatAmount(r.CostRate),
		r.RateSource,
		rates.FormatAmount(r.AdjustedHours),
		rates.FormatAmount(r.TotalAmount),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update entry rates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) SetEntryFlags(ctx context.Context, id rates.EntryID, locked, invoiced bool) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE time_entries SET locked = ?, invoiced = ? WHERE id = ?",
		locked, invoiced, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "entry "+string(id))
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"time_entries", "rate_schedules", "rate_overrides", "people", "roles", "system_defaults"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullAmount(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: rates.FormatAmount(*d), Valid: true}
}

func nullDate(d *rates.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*rates.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := rates.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, rates.ErrNotFound)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
