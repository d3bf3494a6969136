// Package authcore is the identity-and-access client core of a web application.
//
// It establishes a user's session against a backend collaborator, challenges
// with a second factor when the account requires one, walks users through TOTP
// enrollment, and answers authorization questions from a role/permission model.
//
// # Architecture boundaries
//
// authcore is the public surface: [Client], [Builder], [Config], the flows
// ([AuthFlow], [Enrollment], [RoleService]) and the error taxonomy ([Kind],
// [KindOf]). The credential store lives in credential/, the transport in
// gateway/, the authorization model in permission/.
//
// Only two places write the credential store: the gateway when the collaborator
// answers 401 or 403, and the AuthFlow on login, MFA verification, refresh and
// logout. Enrollment and the role service get a gateway.Requester and nothing else.
//
// # What this package must NOT do
//
//   - Retry any call. Retrying is the caller's decision.
//   - Persist anything except the credential pair. TOTP secrets, backup codes and
//     pending MFA challenges stay in memory.
//   - Send a mutation for a system role.
package authcore
