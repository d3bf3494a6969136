package authcore

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/MrEthical07/authcore/gateway"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/permission"
)

var roleNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// RoleInput is the body of POST /roles.
type RoleInput struct {
	Name          string  `json:"name"`
	DisplayName   string  `json:"display_name"`
	Description   *string `json:"description,omitempty"`
	PermissionIDs []int   `json:"permission_ids,omitempty"`
}

// RoleUpdate is the body of PUT /roles/{id}. Nil fields are left unchanged.
type RoleUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// RoleService manages roles and their permission sets. Every mutation checks the
// system-role guard before anything is sent. Permission assignments replace the
// whole set, so they are serialized per role.
type RoleService struct {
	gw      gateway.Requester
	obs     *observer
	cache   *permission.RoleCache
	matrix  *permission.Matrix
	catalog *permission.Catalog

	mu    sync.Mutex
	locks map[int]chan struct{}
}

// NewRoleService returns a service with empty caches.
func NewRoleService(gw gateway.Requester) *RoleService {
	return newRoleService(gw, nil)
}

func newRoleService(gw gateway.Requester, obs *observer) *RoleService {
	catalog, _ := permission.NewCatalog(nil)
	return &RoleService{
		gw:      gw,
		obs:     obs,
		cache:   permission.NewRoleCache(),
		matrix:  permission.NewMatrix(),
		catalog: catalog,
		locks:   make(map[int]chan struct{}),
	}
}

func (s *RoleService) Cache() *permission.RoleCache { return s.cache }
func (s *RoleService) Matrix() *permission.Matrix    { return s.matrix }
func (s *RoleService) Catalog() *permission.Catalog  { return s.catalog }

// List fetches the role summaries and reloads the cache. Summaries carry a
// permission count but no permission set, so the matrix is left alone; Get
// loads a role's grants.
func (s *RoleService) List(ctx context.Context) ([]permission.Role, error) {
	var roles []permission.Role
	if err := s.gw.Do(ctx, http.MethodGet, "/roles", nil, &roles); err != nil {
		return nil, classify("list_roles", err, nil)
	}
	s.cache.Replace(roles)
	return roles, nil
}

// Track records roles the caller already holds so the system-role guard can
// decide without a read. Roles cached with their permission set are kept.
func (s *RoleService) Track(roles ...permission.Role) {
	for _, r := range roles {
		s.cache.PutSummary(r)
	}
}

// Get fetches one role and refreshes its cache entry.
func (s *RoleService) Get(ctx context.Context, id int) (permission.Role, error) {
	var r permission.Role
	if err := s.gw.Do(ctx, http.MethodGet, rolePath(id), nil, &r); err != nil {
		return permission.Role{}, classify("get_role", err, nil)
	}
	s.remember(r)
	return r, nil
}

// Permissions fetches the permission catalog grouped by category.
func (s *RoleService) Permissions(ctx context.Context) ([]permission.Category, error) {
	var groups []permission.Category
	if err := s.gw.Do(ctx, http.MethodGet, "/roles/permissions/all", nil, &groups); err != nil {
		return nil, classify("list_permissions", err, nil)
	}
	if err := s.catalog.LoadCategories(groups); err != nil {
		return nil, newError(KindTransport, "list_permissions", ErrMalformedResponse, err)
	}
	return s.catalog.Categories(), nil
}

// Create validates the input locally and creates a custom role.
func (s *RoleService) Create(ctx context.Context, in RoleInput) (permission.Role, error) {
	const op = "create_role"
	if n := len(in.Name); n == 0 || n > 50 || !roleNamePattern.MatchString(in.Name) {
		return permission.Role{}, s.reject(ctx, op, validationError(op, ErrInvalidRoleName))
	}
	if n := utf8.RuneCountInString(in.DisplayName); n == 0 || n > 100 {
		return permission.Role{}, s.reject(ctx, op, validationError(op, ErrInvalidDisplayName))
	}
	if existing, ok := s.cache.ByName(in.Name); ok && existing.IsSystemRole {
		return permission.Role{}, s.reject(ctx, op, policyError(op, ErrSystemRoleImmutable))
	}

	var r permission.Role
	if err := s.gw.Do(ctx, http.MethodPost, "/roles", in, &r); err != nil {
		err = classify(op, err, nil)
		s.mutated(ctx, auditEventRoleCreated, 0, err)
		return permission.Role{}, err
	}
	s.remember(r)
	s.mutated(ctx, auditEventRoleCreated, r.ID, nil)
	return r, nil
}

// Update changes display name or description of a custom role.
func (s *RoleService) Update(ctx context.Context, id int, in RoleUpdate) (permission.Role, error) {
	const op = "update_role"
	if in.DisplayName != nil {
		if n := utf8.RuneCountInString(*in.DisplayName); n == 0 || n > 100 {
			return permission.Role{}, s.reject(ctx, op, validationError(op, ErrInvalidDisplayName))
		}
	}
	if err := s.guard(ctx, op, id); err != nil {
		return permission.Role{}, err
	}

	var r permission.Role
	if err := s.gw.Do(ctx, http.MethodPut, rolePath(id), in, &r); err != nil {
		err = classify(op, err, nil)
		s.mutated(ctx, auditEventRoleUpdated, id, err)
		return permission.Role{}, err
	}
	s.remember(r)
	s.mutated(ctx, auditEventRoleUpdated, id, nil)
	return r, nil
}

// Delete removes a custom role.
func (s *RoleService) Delete(ctx context.Context, id int) error {
	const op = "delete_role"
	if err := s.guard(ctx, op, id); err != nil {
		return err
	}
	if err := s.gw.Do(ctx, http.MethodDelete, rolePath(id), nil, nil); err != nil {
		err = classify(op, err, nil)
		s.mutated(ctx, auditEventRoleDeleted, id, err)
		return err
	}
	s.cache.Remove(id)
	s.matrix.SetRole(id, nil)
	s.mutated(ctx, auditEventRoleDeleted, id, nil)
	return nil
}

// AssignPermissions replaces the role's whole permission set.
func (s *RoleService) AssignPermissions(ctx context.Context, id int, ids permission.IDSet) (permission.Role, error) {
	const op = "assign_permissions"
	if err := s.guard(ctx, op, id); err != nil {
		return permission.Role{}, err
	}
	if len(ids) == 0 {
		return permission.Role{}, s.reject(ctx, op, validationError(op, ErrEmptyPermissionSet))
	}
	unlock, err := s.lockRole(ctx, op, id)
	if err != nil {
		return permission.Role{}, err
	}
	defer unlock()
	r, err := s.assign(ctx, op, id, ids)
	if err != nil {
		return permission.Role{}, err
	}
	s.remember(r)
	return r, nil
}

// TogglePermission flips one matrix cell. The cell is Pending while the call is
// outstanding and a second toggle on the same cell is rejected. On success the
// role takes the set the collaborator returned; a failed call reverts the cell
// to the last confirmed state.
func (s *RoleService) TogglePermission(ctx context.Context, roleID, permID int) (permission.CellState, error) {
	const op = "toggle_permission"
	if err := s.guard(ctx, op, roleID); err != nil {
		return s.matrix.State(roleID, permID), err
	}
	if _, err := s.detailed(ctx, roleID); err != nil {
		return s.matrix.State(roleID, permID), err
	}
	t, err := s.matrix.Begin(roleID, permID)
	if err != nil {
		return permission.Pending, s.reject(ctx, op, policyError(op, err))
	}

	unlock, err := s.lockRole(ctx, op, roleID)
	if err != nil {
		s.matrix.Revert(t)
		s.obs.inc(MetricPermissionToggleReverted)
		return s.matrix.State(roleID, permID), err
	}
	defer unlock()

	desired := s.matrix.Desired(t)
	if len(desired) == 0 {
		s.matrix.Revert(t)
		return s.matrix.State(roleID, permID), s.reject(ctx, op, validationError(op, ErrEmptyPermissionSet))
	}
	r, err := s.assign(ctx, op, roleID, desired)
	if err != nil {
		s.matrix.Revert(t)
		s.obs.inc(MetricPermissionToggleReverted)
		return s.matrix.State(roleID, permID), err
	}
	s.matrix.Resolve(t, r.PermissionIDs())
	s.cache.Put(r)
	return s.matrix.State(roleID, permID), nil
}

// ToggleCategory selects or deselects every permission of a category for a role.
// A toggle that would not change the set is not sent.
func (s *RoleService) ToggleCategory(ctx context.Context, roleID int, category string, selectAll bool) (permission.Role, error) {
	const op = "toggle_category"
	if err := s.guard(ctx, op, roleID); err != nil {
		return permission.Role{}, err
	}
	if s.catalog.Count() == 0 {
		if _, err := s.Permissions(ctx); err != nil {
			return permission.Role{}, err
		}
	}
	cat, ok := s.catalog.Category(category)
	if !ok {
		return permission.Role{}, s.reject(ctx, op, validationError(op, ErrUnknownCategory))
	}

	unlock, err := s.lockRole(ctx, op, roleID)
	if err != nil {
		return permission.Role{}, err
	}
	defer unlock()

	role, err := s.detailed(ctx, roleID)
	if err != nil {
		return permission.Role{}, err
	}
	current := role.PermissionIDs()
	next := permission.ToggleCategory(current, cat, selectAll)
	if next.Equal(current) {
		return role, nil
	}
	if len(next) == 0 {
		return permission.Role{}, s.reject(ctx, op, validationError(op, ErrEmptyPermissionSet))
	}
	r, err := s.assign(ctx, op, roleID, next)
	if err != nil {
		return permission.Role{}, err
	}
	s.remember(r)
	return r, nil
}

// AssignUserRole sets a user's role. System roles may be assigned to users.
func (s *RoleService) AssignUserRole(ctx context.Context, userID string, roleID int) error {
	const op = "assign_user_role"
	if userID == "" {
		return s.reject(ctx, op, validationError(op, ErrInvalidTransition))
	}
	body := map[string]int{"role_id": roleID}
	if err := s.gw.Do(ctx, http.MethodPatch, "/users/"+userID+"/role", body, nil); err != nil {
		err = classify(op, err, nil)
		s.mutated(ctx, auditEventUserRoleAssigned, roleID, err)
		return err
	}
	s.mutated(ctx, auditEventUserRoleAssigned, roleID, nil)
	return nil
}

func (s *RoleService) assign(ctx context.Context, op string, id int, ids permission.IDSet) (permission.Role, error) {
	var r permission.Role
	body := map[string][]int{"permission_ids": ids.Sorted()}
	if err := s.gw.Do(ctx, http.MethodPost, rolePath(id)+"/permissions", body, &r); err != nil {
		err = classify(op, err, nil)
		s.mutated(ctx, auditEventRolePermissions, id, err)
		return permission.Role{}, err
	}
	s.mutated(ctx, auditEventRolePermissions, id, nil)
	return r, nil
}

// guard rejects system roles locally. A role missing from the cache is fetched
// first; the fetch is a read, never the mutation itself.
func (s *RoleService) guard(ctx context.Context, op string, id int) error {
	if _, ok := s.cache.Get(id); !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	if err := s.cache.Guard(id); err != nil {
		return s.reject(ctx, op, policyError(op, err))
	}
	return nil
}

// detailed returns the role with its permission set, reading it when the cache
// only holds a summary.
func (s *RoleService) detailed(ctx context.Context, id int) (permission.Role, error) {
	if r, ok := s.cache.Detailed(id); ok {
		return r, nil
	}
	return s.Get(ctx, id)
}

// lockRole waits for the role's assignment slot.
func (s *RoleService) lockRole(ctx context.Context, op string, id int) (func(), error) {
	s.mu.Lock()
	slot, ok := s.locks[id]
	if !ok {
		slot = make(chan struct{}, 1)
		s.locks[id] = slot
	}
	s.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, classify(op, ctx.Err(), nil)
	}
}

func (s *RoleService) remember(r permission.Role) {
	s.cache.Put(r)
	s.matrix.SetRole(r.ID, r.PermissionIDs())
}

func (s *RoleService) reject(ctx context.Context, op string, err error) error {
	eventType := auditEventValidationRejected
	if KindOf(err) == KindPolicy {
		eventType = auditEventPolicyRejected
	}
	s.obs.emit(ctx, auditEvent(eventType, op), err)
	return err
}

func (s *RoleService) mutated(ctx context.Context, eventType string, roleID int, err error) {
	if err == nil {
		s.obs.inc(MetricRoleMutation)
	}
	s.obs.emit(ctx, audit.Event{
		EventType: eventType,
		Metadata:  map[string]string{"role_id": strconv.Itoa(roleID)},
	}, err)
}

func rolePath(id int) string {
	return "/roles/" + strconv.Itoa(id)
}
