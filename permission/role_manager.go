package permission

import (
	"sort"
	"sync"
)

// RoleCache holds the last known role records.
//
// Mutating calls on the role service consult Guard before any request is sent,
// so system roles are rejected locally without a round trip. Entries from a
// listing are summaries; only entries stored with Put carry a permission set.
type RoleCache struct {
	mu       sync.RWMutex
	roles    map[int]Role
	detailed map[int]bool
}

// NewRoleCache returns an empty cache.
func NewRoleCache() *RoleCache {
	return &RoleCache{roles: make(map[int]Role), detailed: make(map[int]bool)}
}

// Replace swaps the whole cache for a listing. Every entry becomes a summary.
func (rc *RoleCache) Replace(roles []Role) {
	m := make(map[int]Role, len(roles))
	for _, r := range roles {
		m[r.ID] = r
	}
	rc.mu.Lock()
	rc.roles = m
	rc.detailed = make(map[int]bool)
	rc.mu.Unlock()
}

// Put inserts or updates a role whose permission set is complete.
func (rc *RoleCache) Put(r Role) {
	rc.mu.Lock()
	rc.roles[r.ID] = r
	rc.detailed[r.ID] = true
	rc.mu.Unlock()
}

// PutSummary records a role without its permission set. A detailed entry for
// the same id is left alone.
func (rc *RoleCache) PutSummary(r Role) {
	rc.mu.Lock()
	if !rc.detailed[r.ID] {
		rc.roles[r.ID] = r
	}
	rc.mu.Unlock()
}

// Remove drops a role.
func (rc *RoleCache) Remove(id int) {
	rc.mu.Lock()
	delete(rc.roles, id)
	delete(rc.detailed, id)
	rc.mu.Unlock()
}

// Get returns the cached role, summary or not.
func (rc *RoleCache) Get(id int) (Role, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	r, ok := rc.roles[id]
	return r, ok
}

// Detailed returns the cached role only when its permission set is known.
func (rc *RoleCache) Detailed(id int) (Role, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if !rc.detailed[id] {
		return Role{}, false
	}
	r, ok := rc.roles[id]
	return r, ok
}

// ByName returns the cached role with the given machine name.
func (rc *RoleCache) ByName(name string) (Role, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	for _, r := range rc.roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

// List returns cached roles ordered by id.
func (rc *RoleCache) List() []Role {
	rc.mu.RLock()
	out := make([]Role, 0, len(rc.roles))
	for _, r := range rc.roles {
		out = append(out, r)
	}
	rc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Guard returns ErrSystemRoleImmutable for a cached system role. Unknown ids are
// allowed through; the collaborator remains the authority for them.
func (rc *RoleCache) Guard(id int) error {
	r, ok := rc.Get(id)
	if !ok {
		return nil
	}
	return r.Guard()
}

// Count returns the number of cached roles.
func (rc *RoleCache) Count() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.roles)
}
