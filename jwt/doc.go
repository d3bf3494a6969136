// Package jwt reads and mints the bearer tokens exchanged with the backend
// collaborator.
//
// The client never verifies signatures: the collaborator is the authority. [Inspect]
// only decodes claims so the client can show session details and notice a locally
// expired access token. [Manager] signs and verifies tokens and backs the authtest
// collaborator.
package jwt
