// Package gateway dispatches every outbound call to the backend collaborator.
//
// The gateway attaches the current bearer credential, encodes JSON bodies, decodes
// JSON responses and applies one global policy: any 401 or 403 response clears the
// credential store and is reported as [ErrSessionInvalid]. Nothing is retried;
// transport failures are returned to the caller unchanged.
package gateway
