// Package credential holds the bearer credential pair of the current session.
//
// # Architecture boundaries
//
// [Store] is the single authoritative location for the access/refresh pair. It keeps
// the pair in memory and mirrors it to a [Persister] so a restarted client can pick
// up an existing session via [Store.Restore]. Redis persistence lives in
// [RedisPersister]; [MemoryPersister] keeps the pair for the lifetime of the process.
//
// # What this package must NOT do
//
//   - Perform network I/O against the backend collaborator.
//   - Persist anything other than the credential pair (MFA temp tokens, TOTP
//     secrets and backup codes never reach a Persister).
//   - Expose a state where only one of the two tokens is present.
package credential
