package authcore

import (
	"context"
	"net/http"
	"sync"

	"github.com/MrEthical07/authcore/gateway"
	"github.com/pquerna/otp"
)

// EnrollmentState is a step of the MFA enrollment workflow.
type EnrollmentState uint8

const (
	EnrollInit EnrollmentState = iota
	EnrollInitFailed
	EnrollScanning
	EnrollVerifying
	EnrollBackupDisplay
	EnrollComplete
)

func (s EnrollmentState) String() string {
	switch s {
	case EnrollInit:
		return "init"
	case EnrollInitFailed:
		return "init_failed"
	case EnrollScanning:
		return "scanning"
	case EnrollVerifying:
		return "verifying"
	case EnrollBackupDisplay:
		return "backup_display"
	case EnrollComplete:
		return "complete"
	}
	return "unknown"
}

// Enrollment walks one user through TOTP setup. The secret and backup codes are
// held in memory only and wiped when the workflow leaves BackupDisplay or is
// aborted. Enrollment never touches the credential store.
type Enrollment struct {
	gw        gateway.Requester
	obs       *observer
	issuer    string
	onEnabled func()

	mu       sync.Mutex
	state    EnrollmentState
	material *MFAEnrollment
	err      error
	busy     bool
	gen      uint64
}

// NewEnrollment returns a workflow in Init. onEnabled, when set, runs once after
// Acknowledge.
func NewEnrollment(gw gateway.Requester, onEnabled func()) *Enrollment {
	return newEnrollment(gw, nil, "", onEnabled)
}

func newEnrollment(gw gateway.Requester, obs *observer, issuer string, onEnabled func()) *Enrollment {
	return &Enrollment{gw: gw, obs: obs, issuer: issuer, onEnabled: onEnabled}
}

func (e *Enrollment) State() EnrollmentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error surfaced by the last failed step.
func (e *Enrollment) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Material returns a copy of the provisioning data while it is still held.
func (e *Enrollment) Material() (MFAEnrollment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.material == nil {
		return MFAEnrollment{}, false
	}
	return copyEnrollment(*e.material), true
}

// OTPKey returns the provisioning key labelled for account.
func (e *Enrollment) OTPKey(account string) (*otp.Key, error) {
	m, ok := e.Material()
	if !ok {
		return nil, validationError("mfa_otp_key", ErrEmptySecret)
	}
	return m.OTPKey(e.issuer, account)
}

// Start requests a new enrollment session. It is valid in Init and InitFailed; a
// failure lands in InitFailed and Start may be called again.
func (e *Enrollment) Start(ctx context.Context) (MFAEnrollment, error) {
	const op = "mfa_setup"
	gen, from, _, err := e.enter(op, EnrollInit, EnrollInitFailed)
	if err != nil {
		return MFAEnrollment{}, err
	}

	var m MFAEnrollment
	err = e.gw.Do(ctx, http.MethodPost, "/auth/mfa/setup", nil, &m)
	if err == nil && m.Secret == "" {
		err = newError(KindTransport, op, ErrMalformedResponse, nil)
	}
	if err != nil {
		err = classify(op, err, nil)
		e.leave(gen, EnrollInitFailed, err, nil)
		e.obs.inc(MetricEnrollmentFailure)
		e.obs.transition(ctx, auditEventEnrollmentStarted, "", from.String(), EnrollInitFailed.String(), err)
		return MFAEnrollment{}, err
	}

	held := copyEnrollment(m)
	e.leave(gen, EnrollScanning, nil, func() { e.material = &held })
	e.obs.inc(MetricEnrollmentStarted)
	e.obs.transition(ctx, auditEventEnrollmentStarted, "", from.String(), EnrollScanning.String(), nil)
	return m, nil
}

// ConfirmScanned is the local acknowledgement that the QR code was scanned.
func (e *Enrollment) ConfirmScanned() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EnrollScanning {
		return validationError("mfa_scanned", ErrInvalidTransition)
	}
	if e.material == nil || e.material.Secret == "" {
		e.err = validationError("mfa_scanned", ErrEmptySecret)
		return e.err
	}
	e.state = EnrollVerifying
	e.err = nil
	return nil
}

// Verify submits (secret, code) to activate MFA. A rejected code keeps the
// workflow in Verifying with Err set. The collaborator answers a wrong code with
// 401, so the session is cleared too and Verify can be retried after a new
// login.
func (e *Enrollment) Verify(ctx context.Context, code string) error {
	const op = "mfa_enable"
	if !validMFACode(code) {
		err := validationError(op, ErrInvalidMFACode)
		e.mu.Lock()
		if e.state == EnrollVerifying {
			e.err = err
		}
		e.mu.Unlock()
		e.obs.emit(ctx, auditEvent(auditEventValidationRejected, op), err)
		return err
	}
	gen, from, secret, err := e.enter(op, EnrollVerifying)
	if err != nil {
		return err
	}

	err = e.gw.Do(ctx, http.MethodPost, "/auth/mfa/enable", map[string]string{
		"secret": secret,
		"code":   code,
	}, nil)
	if err != nil {
		err = classify(op, err, nil)
		e.leave(gen, EnrollVerifying, err, nil)
		e.obs.inc(MetricEnrollmentFailure)
		e.obs.transition(ctx, auditEventEnrollmentVerified, "", from.String(), EnrollVerifying.String(), err)
		return err
	}

	e.leave(gen, EnrollBackupDisplay, nil, nil)
	e.obs.transition(ctx, auditEventEnrollmentVerified, "", from.String(), EnrollBackupDisplay.String(), nil)
	return nil
}

// BackupCodes returns the codes to display. They are only available until
// Acknowledge.
func (e *Enrollment) BackupCodes() []string {
	m, ok := e.Material()
	if !ok {
		return nil
	}
	return m.BackupCodes
}

// Acknowledge records that the user saved the backup codes, wipes the material
// and reports MFA as enabled.
func (e *Enrollment) Acknowledge(ctx context.Context) error {
	e.mu.Lock()
	if e.state != EnrollBackupDisplay {
		e.mu.Unlock()
		return validationError("mfa_acknowledge", ErrInvalidTransition)
	}
	e.material.wipe()
	e.material = nil
	e.state = EnrollComplete
	e.err = nil
	cb := e.onEnabled
	e.mu.Unlock()

	e.obs.inc(MetricEnrollmentCompleted)
	e.obs.transition(ctx, auditEventEnrollmentCompleted, "", EnrollBackupDisplay.String(), EnrollComplete.String(), nil)
	if cb != nil {
		cb()
	}
	return nil
}

// Abort discards the material and returns to Init. An outstanding Verify still
// completes but its result is ignored.
func (e *Enrollment) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.material != nil {
		e.material.wipe()
		e.material = nil
	}
	e.state = EnrollInit
	e.err = nil
	e.busy = false
	e.gen++
}

// enter starts a network step. It returns the generation the step must still
// match on completion and the secret held at that moment.
func (e *Enrollment) enter(op string, allowed ...EnrollmentState) (uint64, EnrollmentState, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return 0, e.state, "", policyError(op, ErrFlowBusy)
	}
	ok := false
	for _, s := range allowed {
		if e.state == s {
			ok = true
			break
		}
	}
	if !ok {
		return 0, e.state, "", validationError(op, ErrInvalidTransition)
	}
	e.busy = true
	var secret string
	if e.material != nil {
		secret = e.material.Secret
	}
	return e.gen, e.state, secret, nil
}

// leave ends a network step. If Abort ran meanwhile the outcome is dropped.
func (e *Enrollment) leave(gen uint64, to EnrollmentState, err error, apply func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.busy = false
	e.state = to
	e.err = err
	if apply != nil {
		apply()
	}
}

func copyEnrollment(m MFAEnrollment) MFAEnrollment {
	out := m
	out.BackupCodes = append([]string(nil), m.BackupCodes...)
	return out
}
