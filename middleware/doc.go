// Package middleware gates net/http handlers on an authcore client's session.
//
// # Guards
//
//   - [RequireSession]: a locally unexpired access token is held.
//   - [RequirePermission] and [RequireAny]: the cached user's permissions.
//   - [RequireStrict]: the backend confirms the session on every request.
//
// Guards store the session's [authcore.SessionInfo] in the request context,
// read back with [SessionFromContext].
//
// # What this package must NOT do
//
//   - Verify token signatures. The backend is authoritative.
//   - Write the credential store.
package middleware
