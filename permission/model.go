package permission

import "errors"

var (
	// ErrSystemRoleImmutable is returned for any mutation aimed at a system role.
	ErrSystemRoleImmutable = errors.New("system role is immutable")
	// ErrRoleNotFound is returned when a role id is not cached.
	ErrRoleNotFound = errors.New("role not found")
	// ErrToggleInFlight is returned when a toggle on the same (role, permission) pair
	// is still outstanding.
	ErrToggleInFlight = errors.New("permission toggle already in flight")
)

// Permission is immutable from the client.
type Permission struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Action      string  `json:"action"`
	Description *string `json:"description,omitempty"`
}

// Category groups permissions for display and bulk toggles.
type Category struct {
	Category    string       `json:"category"`
	Permissions []Permission `json:"permissions"`
}

// IDs returns the ids of every permission in the category.
func (c Category) IDs() IDSet {
	out := make(IDSet, len(c.Permissions))
	for _, p := range c.Permissions {
		out.Add(p.ID)
	}
	return out
}

// Role mirrors the collaborator's role record. The list endpoint returns
// summaries: PermissionCount is set and Permissions is empty.
type Role struct {
	ID              int          `json:"id"`
	Name            string       `json:"name"`
	DisplayName     string       `json:"display_name"`
	Description     *string      `json:"description,omitempty"`
	IsSystemRole    bool         `json:"is_system_role"`
	Permissions     []Permission `json:"permissions,omitempty"`
	PermissionCount int          `json:"permission_count,omitempty"`
	UserCount       int          `json:"user_count,omitempty"`
}

// PermissionIDs returns the ids granted to the role.
func (r Role) PermissionIDs() IDSet {
	out := make(IDSet, len(r.Permissions))
	for _, p := range r.Permissions {
		out.Add(p.ID)
	}
	return out
}

// Guard returns ErrSystemRoleImmutable for system roles.
func (r Role) Guard() error {
	if r.IsSystemRole {
		return ErrSystemRoleImmutable
	}
	return nil
}
