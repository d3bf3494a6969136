// Package authtest runs an in-process identity collaborator for tests and demos.
//
// The server speaks the same JSON contract as the production backend: FastAPI
// style {"detail": ...} error bodies, bearer access tokens, a short lived MFA
// temp token and TOTP codes. It is seeded with a fixed set of accounts, roles and
// permissions and counts every request by route so tests can assert that an
// operation was rejected before reaching the network.
//
// State lives in memory and is lost when the server stops.
package authtest
