package permission

import (
	"sort"
	"sync"
)

// CellState is the rendered state of one (role, permission) cell.
type CellState uint8

const (
	NotGranted CellState = iota
	Granted
	Pending
)

func (s CellState) String() string {
	switch s {
	case Granted:
		return "granted"
	case Pending:
		return "pending"
	default:
		return "not_granted"
	}
}

// Key identifies a matrix cell. It doubles as the in-flight key for toggles.
type Key struct {
	RoleID       int
	PermissionID int
}

// Toggle is an outstanding change on one cell, returned by [Matrix.Begin].
type Toggle struct {
	Key
	From bool
	To   bool
}

// Matrix tracks confirmed grants per role plus the toggles still in flight.
//
// Confirmed grants only change through SetRole and Resolve, both fed from
// collaborator responses. A failed toggle needs no undo: Revert drops the
// pending entry and the cell shows the last confirmed state again.
type Matrix struct {
	mu      sync.Mutex
	grants  map[int]IDSet
	pending map[Key]bool
}

// NewMatrix returns an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{
		grants:  make(map[int]IDSet),
		pending: make(map[Key]bool),
	}
}

// SetRole replaces the confirmed grants of one role. Pending toggles are kept.
func (m *Matrix) SetRole(roleID int, ids IDSet) {
	m.mu.Lock()
	m.grants[roleID] = ids.Clone()
	m.mu.Unlock()
}

// State returns exactly one of Granted, NotGranted or Pending for the cell.
func (m *Matrix) State(roleID, permID int) CellState {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := Key{RoleID: roleID, PermissionID: permID}
	if _, ok := m.pending[k]; ok {
		return Pending
	}
	if m.grants[roleID].Has(permID) {
		return Granted
	}
	return NotGranted
}

// Granted returns the confirmed grants of a role.
func (m *Matrix) Granted(roleID int) IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[roleID].Clone()
}

// Begin marks the cell pending and flips its target. A second Begin on the same
// key before Resolve or Revert returns ErrToggleInFlight.
func (m *Matrix) Begin(roleID, permID int) (Toggle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := Key{RoleID: roleID, PermissionID: permID}
	if _, busy := m.pending[k]; busy {
		return Toggle{}, ErrToggleInFlight
	}
	from := m.grants[roleID].Has(permID)
	m.pending[k] = !from
	return Toggle{Key: k, From: from, To: !from}, nil
}

// Desired returns the role's confirmed grants with t applied. Callers send one
// toggle per request, serialized per role, so each request carries the last
// confirmed set plus exactly one change.
func (m *Matrix) Desired(t Toggle) IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.grants[t.RoleID].Clone()
	if t.To {
		out.Add(t.PermissionID)
	} else {
		out.Remove(t.PermissionID)
	}
	return out
}

// Resolve settles a toggle. confirmed is the role's set as the collaborator
// reported it, so the cell shows what the server holds even when it differs
// from the target.
func (m *Matrix) Resolve(t Toggle, confirmed IDSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, t.Key)
	m.grants[t.RoleID] = confirmed.Clone()
}

// Revert abandons a toggle: the cell shows its prior confirmed state.
func (m *Matrix) Revert(t Toggle) {
	m.mu.Lock()
	delete(m.pending, t.Key)
	m.mu.Unlock()
}

// InFlight lists pending keys ordered by role then permission.
func (m *Matrix) InFlight() []Key {
	m.mu.Lock()
	out := make([]Key, 0, len(m.pending))
	for k := range m.pending {
		out = append(out, k)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoleID != out[j].RoleID {
			return out[i].RoleID < out[j].RoleID
		}
		return out[i].PermissionID < out[j].PermissionID
	})
	return out
}
