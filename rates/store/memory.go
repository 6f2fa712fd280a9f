// Package store provides in-memory rates.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rate-engine/rates"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

type data struct {
	schedules map[rates.ScheduleID]rates.RateSchedule
	overrides map[rates.OverrideID]rates.RateOverride
	roles     map[rates.RoleID]rates.Role
	people    map[rates.PersonID]rates.Person
	entries   map[rates.EntryID]rates.TimeEntry
	defaults  rates.SystemDefaults
}

func newData() data {
	return data{
		schedules: make(map[rates.ScheduleID]rates.RateSchedule),
		overrides: make(map[rates.OverrideID]rates.RateOverride),
		roles:     make(map[rates.RoleID]rates.Role),
		people:    make(map[rates.PersonID]rates.Person),
		entries:   make(map[rates.EntryID]rates.TimeEntry),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

// --- schedules ---

func (m *Memory) SchedulesFor(_ context.Context, personID rates.PersonID) ([]rates.RateSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedulesFor(personID), nil
}

func (m *Memory) InsertSchedule(_ context.Context, s rates.RateSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSchedule(s)
}

func (m *Memory) CloseSchedule(_ context.Context, id rates.ScheduleID, end rates.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeSchedule(id, end)
}

// --- overrides ---

func (m *Memory) MatchingOverrides(_ context.Context, scope rates.Scope, scopeID string, subject rates.Subject) ([]rates.RateOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchingOverrides(scope, scopeID, subject), nil
}

func (m *Memory) ListOverrides(_ context.Context, filter rates.OverrideFilter) ([]rates.RateOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOverrides(filter), nil
}

func (m *Memory) SaveOverride(_ context.Context, o rates.RateOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[o.ID] = o
	return nil
}

func (m *Memory) DeleteOverride(_ context.Context, id rates.OverrideID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteOverride(id)
}

// --- roles and people ---

func (m *Memory) GetRole(_ context.Context, id rates.RoleID) (*rates.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRole(id), nil
}

func (m *Memory) ListRoles(_ context.Context) ([]rates.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRoles(), nil
}

func (m *Memory) SaveRole(_ context.Context, r rates.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
	return nil
}

func (m *Memory) DeleteRole(_ context.Context, id rates.RoleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRole(id)
}

func (m *Memory) GetPerson(_ context.Context, id rates.PersonID) (*rates.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPerson(id), nil
}

func (m *Memory) ListPeople(_ context.Context) ([]rates.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPeople(), nil
}

func (m *Memory) SavePerson(_ context.Context, p rates.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[p.ID] = p
	return nil
}

// --- settings ---

func (m *Memory) GetSystemDefaults(_ context.Context) (rates.SystemDefaults, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults, nil
}

func (m *Memory) SaveSystemDefaults(_ context.Context, d rates.SystemDefaults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = d
	return nil
}

// --- entries ---

func (m *Memory) FindEntries(_ context.Context, filter rates.Filter) ([]rates.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findEntries(filter), nil
}

func (m *Memory) GetEntry(_ context.Context, id rates.EntryID) (*rates.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntry(id), nil
}

func (m *Memory) InsertEntry(_ context.Context, e rates.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) UpdateEntryRates(_ context.Context, id rates.EntryID, r rates.EntryRates) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntryRates(id, r), nil
}

func (m *Memory) SetEntryFlags(_ context.Context, id rates.EntryID, locked, invoiced bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEntryFlags(id, locked, invoiced)
}

// =============================================================================
// UNLOCKED OPERATIONS - Shared by Memory and the transactional view
// =============================================================================

func (d *data) schedulesFor(personID rates.PersonID) []rates.RateSchedule {
	var result []rates.RateSchedule
	for _, s := range d.schedules {
		if s.PersonID == personID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EffectiveStart.Before(result[j].EffectiveStart)
	})
	return result
}

func (d *data) insertSchedule(s rates.RateSchedule) error {
	if _, ok := d.schedules[s.ID]; ok {
		return &rates.ValidationError{Problems: []string{"schedule " + string(s.ID) + " already exists"}}
	}
	d.schedules[s.ID] = s
	return nil
}

func (d *data) closeSchedule(id rates.ScheduleID, end rates.Date) error {
	s, ok := d.schedules[id]
	if !ok {
		return rates.ErrNotFound
	}
	s.EffectiveEnd = rates.DatePtr(end)
	d.schedules[id] = s
	return nil
}

func (d *data) matchingOverrides(scope rates.Scope, scopeID string, subject rates.Subject) []rates.RateOverride {
	var result []rates.RateOverride
	for _, o := range d.overrides {
		if o.Scope == scope && o.ScopeID == scopeID && o.Subject == subject {
			result = append(result, o)
		}
	}
	sortOverrides(result)
	return result
}

func (d *data) listOverrides(filter rates.OverrideFilter) []rates.RateOverride {
	var result []rates.RateOverride
	for _, o := range d.overrides {
		if filter.Matches(o) {
			result = append(result, o)
		}
	}
	sortOverrides(result)
	return result
}

func (d *data) deleteOverride(id rates.OverrideID) error {
	if _, ok := d.overrides[id]; !ok {
		return rates.ErrNotFound
	}
	delete(d.overrides, id)
	return nil
}

func (d *data) getRole(id rates.RoleID) *rates.Role {
	r, ok := d.roles[id]
	if !ok {
		return nil
	}
	return &r
}

func (d *data) listRoles() []rates.Role {
	result := make([]rates.Role, 0, len(d.roles))
	for _, r := range d.roles {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *data) deleteRole(id rates.RoleID) error {
	if _, ok := d.roles[id]; !ok {
		return rates.ErrNotFound
	}
	for _, e := range d.entries {
		if e.RoleID == id {
			return rates.ErrRoleInUse
		}
	}
	for _, p := range d.people {
		if p.RoleID == id {
			return rates.ErrRoleInUse
		}
	}
	delete(d.roles, id)
	return nil
}

func (d *data) getPerson(id rates.PersonID) *rates.Person {
	p, ok := d.people[id]
	if !ok {
		return nil
	}
	return &p
}

func (d *data) listPeople() []rates.Person {
	result := make([]rates.Person, 0, len(d.people))
	for _, p := range d.people {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *data) findEntries(filter rates.Filter) []rates.TimeEntry {
	var result []rates.TimeEntry
	for _, e := range d.entries {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].WorkDate.Equal(result[j].WorkDate) {
			return result[i].WorkDate.Before(result[j].WorkDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (d *data) getEntry(id rates.EntryID) *rates.TimeEntry {
	e, ok := d.entries[id]
	if !ok {
		return nil
	}
	return &e
}

func (d *data) updateEntryRates(id rates.EntryID, r rates.EntryRates) bool {
	e, ok := d.entries[id]
	if !ok || e.Locked || e.Invoiced {
		return false
	}
	e.BillingRate = r.BillingRate
	e.CostRate = r.CostRate
	e.RateSource = r.RateSource
	e.AdjustedHours = r.AdjustedHours
	e.TotalAmount = r.TotalAmount
	d.entries[id] = e
	return true
}

func (d *data) setEntryFlags(id rates.EntryID, locked, invoiced bool) error {
	e, ok := d.entries[id]
	if !ok {
		return rates.ErrNotFound
	}
	e.Locked = locked
	e.Invoiced = invoiced
	d.entries[id] = e
	return nil
}

func (d *data) clone() data {
	c := newData()
	for k, v := range d.schedules {
		c.schedules[k] = v
	}
	for k, v := range d.overrides {
		c.overrides[k] = v
	}
	for k, v := range d.roles {
		c.roles[k] = v
	}
	for k, v := range d.people {
		c.people[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	c.defaults = d.defaults
	return c
}

func sortOverrides(os []rates.RateOverride) {
	sort.Slice(os, func(i, j int) bool {
		if !os[i].EffectiveStart.Equal(os[j].EffectiveStart) {
			return os[i].EffectiveStart.Before(os[j].EffectiveStart)
		}
		return os[i].ID < os[j].ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(rates.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()

	if err := fn(&txMemoryView{d: &tm.data}); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

// txMemoryView runs against the parent's data while the parent lock is held.
type txMemoryView struct {
	d *data
}

func (tv *txMemoryView) SchedulesFor(_ context.Context, personID rates.PersonID) ([]rates.RateSchedule, error) {
	return tv.d.schedulesFor(personID), nil
}

func (tv *txMemoryView) InsertSchedule(_ context.Context, s rates.RateSchedule) error {
	return tv.d.insertSchedule(s)
}

func (tv *txMemoryView) CloseSchedule(_ context.Context, id rates.ScheduleID, end rates.Date) error {
	return tv.d.closeSchedule(id, end)
}

func (tv *txMemoryView) MatchingOverrides(_ context.Context, scope rates.Scope, scopeID string, subject rates.Subject) ([]rates.RateOverride, error) {
	return tv.d.matchingOverrides(scope, scopeID, subject), nil
}

func (tv *txMemoryView) ListOverrides(_ context.Context, filter rates.OverrideFilter) ([]rates.RateOverride, error) {
	return tv.d.listOverrides(filter), nil
}

func (tv *txMemoryView) SaveOverride(_ context.Context, o rates.RateOverride) error {
	tv.d.overrides[o.ID] = o
	return nil
}

func (tv *txMemoryView) DeleteOverride(_ context.Context, id rates.OverrideID) error {
	return tv.d.deleteOverride(id)
}

func (tv *txMemoryView) GetRole(_ context.Context, id rates.RoleID) (*rates.Role, error) {
	return tv.d.getRole(id), nil
}

func (tv *txMemoryView) ListRoles(_ context.Context) ([]rates.Role, error) {
	return tv.d.listRoles(), nil
}

func (tv *txMemoryView) SaveRole(_ context.Context, r rates.Role) error {
	tv.d.roles[r.ID] = r
	return nil
}

func (tv *txMemoryView) DeleteRole(_ context.Context, id rates.RoleID) error {
	return tv.d.deleteRole(id)
}

func (tv *txMemoryView) GetPerson(_ context.Context, id rates.PersonID) (*rates.Person, error) {
	return tv.d.getPerson(id), nil
}

func (tv *txMemoryView) ListPeople(_ context.Context) ([]rates.Person, error) {
	return tv.d.listPeople(), nil
}

func (tv *txMemoryView) SavePerson(_ context.Context, p rates.Person) error {
	tv.d.people[p.ID] = p
	return nil
}

func (tv *txMemoryView) GetSystemDefaults(_ context.Context) (rates.SystemDefaults, error) {
	return tv.d.defaults, nil
}

func (tv *txMemoryView) SaveSystemDefaults(_ context.Context, d rates.SystemDefaults) error {
	tv.d.defaults = d
	return nil
}

func (tv *txMemoryView) FindEntries(_ context.Context, filter rates.Filter) ([]rates.TimeEntry, error) {
	return tv.d.findEntries(filter), nil
}

func (tv *txMemoryView) GetEntry(_ context.Context, id rates.EntryID) (*rates.TimeEntry, error) {
	return tv.d.getEntry(id), nil
}

func (tv *txMemoryView) InsertEntry(_ context.Context, e rates.TimeEntry) error {
	tv.d.entries[e.ID] = e
	return nil
}

func (tv *txMemoryView) UpdateEntryRates(_ context.Context, id rates.EntryID, r rates.EntryRates) (bool, error) {
	return tv.d.updateEntryRates(id, r), nil
}

func (tv *txMemoryView) SetEntryFlags(_ context.Context, id rates.EntryID, locked, invoiced bool) error {
	return tv.d.setEntryFlags(id, locked, invoiced)
}
