package authcore

import (
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/gateway"
	"github.com/MrEthical07/authcore/permission"
)

// Kind is the error taxonomy every flow exposes to the UI layer.
type Kind uint8

const (
	// KindNone is reported for a nil error.
	KindNone Kind = iota
	// KindValidation is malformed input rejected before any network call.
	KindValidation
	// KindAuthentication is wrong credentials or a rejected MFA code. The same
	// flow state can be retried.
	KindAuthentication
	// KindAuthorization is a 401/403 on an authenticated call. The session has
	// been cleared.
	KindAuthorization
	// KindPolicy is a local rule violation such as mutating a system role.
	KindPolicy
	// KindTransport is a network failure or any other collaborator error.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindPolicy:
		return "policy"
	default:
		return "transport"
	}
}

var (
	// Validation.
	ErrEmailRequired       = errors.New("email is required")
	ErrPasswordRequired    = errors.New("password is required")
	ErrInvalidMFACode      = errors.New("mfa code must be exactly six digits")
	ErrNoPendingChallenge  = errors.New("no pending mfa challenge")
	ErrEmptySecret         = errors.New("enrollment has no secret")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInvalidRoleName     = errors.New("role name must match ^[a-z0-9_]+$ and be 1-50 characters")
	ErrInvalidDisplayName  = errors.New("role display name must be 1-100 characters")
	ErrEmptyPermissionSet  = errors.New("at least one permission id is required")
	ErrUnknownCategory     = errors.New("unknown permission category")
	ErrTokenRequired       = errors.New("token is required")
	ErrPasswordTooShort    = errors.New("password must be at least 8 characters")
	ErrMissingRefreshToken = errors.New("no refresh token available")
	ErrMissingAccessToken  = errors.New("not authenticated")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrInvalidRegistration = errors.New("invalid registration request")

	// Authentication.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive or unverified")
	ErrMFACodeRejected    = errors.New("mfa code rejected")
	ErrChallengeExpired   = errors.New("mfa challenge invalid or expired")

	// Authorization.
	ErrSessionInvalid = gateway.ErrSessionInvalid

	// Policy.
	ErrSystemRoleImmutable = permission.ErrSystemRoleImmutable
	ErrToggleInFlight      = permission.ErrToggleInFlight
	ErrFlowBusy            = errors.New("operation of the same kind already in flight")

	// Transport.
	ErrCredentialPersist = credential.ErrPersistUnavailable
	ErrSuperseded        = errors.New("result discarded after logout")
	ErrMalformedResponse = errors.New("malformed collaborator response")
)

// Error carries the taxonomy kind, the failing operation, the sentinel that names
// the failure and, when there is one, the underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Cause != nil:
		return b.String() + e.Cause.Error()
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func newError(kind Kind, op string, sentinel, cause error) *Error {
	e := &Error{Kind: kind, Op: op, Err: sentinel, Cause: cause}
	if se, ok := gateway.AsStatus(cause); ok {
		e.Detail = se.Detail
	}
	return e
}

func validationError(op string, sentinel error) error {
	return newError(KindValidation, op, sentinel, nil)
}

func policyError(op string, sentinel error) error {
	return newError(KindPolicy, op, sentinel, nil)
}

// KindOf classifies any error into exactly one Kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, gateway.ErrSessionInvalid):
		return KindAuthorization
	case errors.Is(err, permission.ErrSystemRoleImmutable),
		errors.Is(err, permission.ErrToggleInFlight),
		errors.Is(err, ErrFlowBusy):
		return KindPolicy
	case errors.Is(err, credential.ErrIncompletePair):
		return KindValidation
	}
	return KindTransport
}

// IsKind reports whether KindOf(err) == kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// classify maps a gateway error from op into the taxonomy. authStatus lists
// statuses that mean "try again" for this particular call and map to
// authSentinel; they are checked before the session-invalid statuses.
func classify(op string, err error, authSentinel error, authStatus ...int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if se, ok := gateway.AsStatus(err); ok {
		for _, s := range authStatus {
			if se.Status == s {
				return newError(KindAuthentication, op, authSentinel, err)
			}
		}
		if se.SessionInvalid() {
			return newError(KindAuthorization, op, ErrSessionInvalid, err)
		}
		return newError(KindTransport, op, nil, err)
	}
	return newError(KindTransport, op, nil, err)
}
