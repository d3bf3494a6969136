package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/logging"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventLogout                = "logout"
	auditEventRefresh               = "refresh"
	auditEventSessionInvalidated    = "session_invalidated"
	auditEventEnrollmentStarted     = "mfa_enrollment_started"
	auditEventEnrollmentVerified    = "mfa_enrollment_verified"
	auditEventEnrollmentCompleted   = "mfa_enrollment_completed"
	auditEventMFADisabled           = "mfa_disabled"
	auditEventBackupCodesRegenerate = "backup_codes_regenerated"
	auditEventRoleCreated           = "role_created"
	auditEventRoleUpdated           = "role_updated"
	auditEventRoleDeleted           = "role_deleted"
	auditEventRolePermissions       = "role_permissions_assigned"
	auditEventUserRoleAssigned      = "user_role_assigned"
	auditEventPolicyRejected        = "policy_rejected"
	auditEventValidationRejected    = "validation_rejected"
)

// observer is the shared sink for metrics, audit and logs. A nil observer is a
// no-op so components can be used standalone in tests.
type observer struct {
	metrics *Metrics
	audit   *audit.Dispatcher
	logger  *slog.Logger
}

func (o *observer) inc(id MetricID) {
	if o == nil {
		return
	}
	o.metrics.Inc(id)
}

func (o *observer) log(ctx context.Context) *slog.Logger {
	if o == nil || o.logger == nil {
		return logging.FromContext(ctx, logging.Discard())
	}
	return logging.FromContext(ctx, o.logger)
}

// transition records a state change. err may be nil.
func (o *observer) transition(ctx context.Context, eventType, userID, from, to string, err error) {
	o.emit(ctx, audit.Event{
		EventType: eventType,
		UserID:    userID,
		From:      from,
		To:        to,
	}, err)
}

func (o *observer) emit(ctx context.Context, ev audit.Event, err error) {
	if o == nil {
		return
	}
	ev.Success = err == nil
	if err != nil {
		kind := KindOf(err)
		ev.Kind = kind.String()
		ev.Error = auditErrorCode(err)
		switch kind {
		case KindValidation:
			o.inc(MetricValidationRejected)
		case KindPolicy:
			o.inc(MetricPolicyRejected)
		}
	}
	o.log(ctx).Debug("flow event",
		"event_type", ev.EventType,
		"from", ev.From,
		"to", ev.To,
		"success", ev.Success,
	)
	if o.audit != nil {
		o.audit.Emit(ctx, ev)
	}
}

func auditEvent(eventType, op string) audit.Event {
	return audit.Event{EventType: eventType, Metadata: map[string]string{"op": op}}
}

// auditErrorCode maps an error onto a stable code. Raw collaborator detail is not
// carried into the audit trail.
func auditErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		switch e.Err {
		case ErrInvalidCredentials:
			return "invalid_credentials"
		case ErrAccountInactive:
			return "account_inactive"
		case ErrMFACodeRejected:
			return "mfa_invalid"
		case ErrChallengeExpired:
			return "challenge_expired"
		case ErrSessionInvalid:
			return "session_invalid"
		case ErrSystemRoleImmutable:
			return "system_role_immutable"
		case ErrFlowBusy:
			return "busy"
		}
	}
	return KindOf(err).String()
}
