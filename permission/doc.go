// Package permission is the client-side model of roles and permissions.
//
// It computes effective authorization ([Can], [Filter]), keeps the permission
// catalog grouped by category ([Catalog]), caches roles and guards system roles
// against mutation ([RoleCache]), and tracks the role/permission matrix including
// toggles that are still in flight ([Matrix]).
//
// Client-side checks are advisory. The backend collaborator enforces the same rules
// and stays the authority.
//
// # What this package must NOT do
//
//   - Access the network or the credential store.
//   - Import authcore or gateway.
package permission
