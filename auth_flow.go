package authcore

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/gateway"
	"github.com/MrEthical07/authcore/jwt"
)

// FlowState is a state of the authentication flow.
type FlowState uint8

const (
	StateIdle FlowState = iota
	StateSubmitting
	StateAuthenticated
	StateMFARequired
	StateVerifyingMFA
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAuthenticated:
		return "authenticated"
	case StateMFARequired:
		return "mfa_required"
	case StateVerifyingMFA:
		return "verifying_mfa"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

const minPasswordLen = 8

// AuthFlow drives login, the conditional MFA challenge and logout. Together with
// the gateway it is the only writer of the credential store.
//
// Calls block until the collaborator answers. A Login or VerifyMFA issued while
// another one is outstanding is rejected with ErrFlowBusy. Logout is accepted at
// any time; a response that arrives after it is discarded.
type AuthFlow struct {
	store credential.Writer
	gw    gateway.Requester
	obs   *observer
	now   func() time.Time

	mu        sync.Mutex
	state     FlowState
	challenge *MFAChallenge
	lastErr   error
	user      *User
	busy      bool
	gen       uint64
}

// NewAuthFlow wires a flow to its store and gateway. The gateway must be bound to
// the same store.
func NewAuthFlow(store credential.Writer, gw gateway.Requester) *AuthFlow {
	return newAuthFlow(store, gw, nil)
}

func newAuthFlow(store credential.Writer, gw gateway.Requester, obs *observer) *AuthFlow {
	f := &AuthFlow{store: store, gw: gw, obs: obs, now: time.Now}
	if store != nil && store.IsAuthenticated() {
		f.state = StateAuthenticated
	}
	return f
}

// State returns the current state.
func (f *AuthFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Challenge returns a copy of the pending MFA challenge.
func (f *AuthFlow) Challenge() (MFAChallenge, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenge == nil {
		return MFAChallenge{}, false
	}
	return *f.challenge, true
}

// ResumeChallenge re-enters MfaRequired with a temp token obtained by an earlier
// Login, typically in another process. Only valid from Idle or Failed.
func (f *AuthFlow) ResumeChallenge(tempToken string) error {
	const op = "resume_challenge"
	if strings.TrimSpace(tempToken) == "" {
		return validationError(op, ErrNoPendingChallenge)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return policyError(op, ErrFlowBusy)
	}
	if f.state != StateIdle && f.state != StateFailed {
		return validationError(op, ErrInvalidTransition)
	}
	f.challenge = &MFAChallenge{TempToken: tempToken}
	f.state = StateMFARequired
	f.lastErr = nil
	return nil
}

// LastError returns the error that produced the current state, if any.
func (f *AuthFlow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// CurrentUser returns the user cached by the last successful Me.
func (f *AuthFlow) CurrentUser() *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

// begin marks a call in flight and moves to the transient state. It returns the
// generation the call must still match when it completes.
func (f *AuthFlow) begin(op string, transient FlowState, allowed ...FlowState) (uint64, FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return 0, f.state, policyError(op, ErrFlowBusy)
	}
	if len(allowed) > 0 {
		ok := false
		for _, s := range allowed {
			if f.state == s {
				ok = true
				break
			}
		}
		if !ok {
			return 0, f.state, validationError(op, ErrNoPendingChallenge)
		}
	}
	from := f.state
	f.busy = true
	f.state = transient
	f.lastErr = nil
	return f.gen, from, nil
}

// finish applies the outcome unless a Logout happened meanwhile. It reports
// whether the outcome was applied.
func (f *AuthFlow) finish(gen uint64, to FlowState, err error, apply func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	if gen != f.gen {
		return false
	}
	f.state = to
	f.lastErr = err
	if apply != nil {
		apply()
	}
	return true
}

// Login submits credentials. Any pair already held is cleared first. The result
// is a TokenPair (already persisted, state Authenticated) or an MFAChallenge
// (state MfaRequired, nothing persisted).
func (f *AuthFlow) Login(ctx context.Context, email, password string) (LoginResult, error) {
	const op = "login"
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, f.reject(ctx, op, ErrEmailRequired)
	}
	if password == "" {
		return nil, f.reject(ctx, op, ErrPasswordRequired)
	}

	gen, from, err := f.begin(op, StateSubmitting)
	if err != nil {
		f.obs.emit(ctx, auditEvent(auditEventPolicyRejected, op), err)
		return nil, err
	}
	f.mu.Lock()
	f.challenge = nil
	f.user = nil
	f.mu.Unlock()

	// A new login ends the previous session before anything is sent, so its
	// bearer is not attached and it does not outlive an MFA challenge.
	if _, held := f.store.Pair(); held {
		if cerr := f.store.Clear(ctx); cerr != nil {
			err := newError(KindTransport, op, ErrCredentialPersist, cerr)
			f.finish(gen, StateFailed, err, nil)
			f.obs.inc(MetricLoginFailure)
			f.obs.transition(ctx, auditEventLoginFailure, "", from.String(), StateFailed.String(), err)
			return nil, err
		}
	}

	var resp loginResponse
	err = f.gw.Do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		err = classifyLogin(op, err)
		f.finish(gen, StateFailed, err, nil)
		f.obs.inc(MetricLoginFailure)
		f.obs.transition(ctx, auditEventLoginFailure, "", from.String(), StateFailed.String(), err)
		return nil, err
	}

	switch res := resp.result().(type) {
	case TokenPair:
		var setErr error
		applied := f.finishLocked(gen, func() {
			if setErr = f.store.Set(ctx, res.pair()); setErr != nil {
				f.state = StateFailed
				f.lastErr = newError(KindTransport, op, ErrCredentialPersist, setErr)
				return
			}
			f.state = StateAuthenticated
		})
		if !applied {
			return nil, newError(KindTransport, op, ErrSuperseded, nil)
		}
		if setErr != nil {
			f.obs.inc(MetricLoginFailure)
			err := newError(KindTransport, op, ErrCredentialPersist, setErr)
			f.obs.transition(ctx, auditEventLoginFailure, "", from.String(), StateFailed.String(), err)
			return nil, err
		}
		f.obs.inc(MetricLoginSuccess)
		f.obs.transition(ctx, auditEventLoginSuccess, subjectOf(res.AccessToken), from.String(), StateAuthenticated.String(), nil)
		return res, nil

	case MFAChallenge:
		challenge := res
		applied := f.finish(gen, StateMFARequired, nil, func() {
			f.challenge = &challenge
		})
		if !applied {
			return nil, newError(KindTransport, op, ErrSuperseded, nil)
		}
		f.obs.inc(MetricMFAChallengeIssued)
		f.obs.transition(ctx, auditEventMFARequired, "", from.String(), StateMFARequired.String(), nil)
		return res, nil

	default:
		err := newError(KindTransport, op, ErrMalformedResponse, nil)
		f.finish(gen, StateFailed, err, nil)
		f.obs.inc(MetricLoginFailure)
		f.obs.transition(ctx, auditEventLoginFailure, "", from.String(), StateFailed.String(), err)
		return nil, err
	}
}

// finishLocked runs apply under the flow lock when gen still matches. apply sets
// the resulting state itself.
func (f *AuthFlow) finishLocked(gen uint64, apply func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	if gen != f.gen {
		return false
	}
	f.lastErr = nil
	apply()
	return true
}

// VerifyMFA answers the pending challenge with a six-digit code.
func (f *AuthFlow) VerifyMFA(ctx context.Context, code string) (TokenPair, error) {
	f.mu.Lock()
	var temp string
	if f.challenge != nil {
		temp = f.challenge.TempToken
	}
	f.mu.Unlock()
	return f.VerifyMFAWithToken(ctx, temp, code)
}

// VerifyMFAWithToken exchanges (tempToken, code) for a credential pair. A malformed
// code is rejected locally. A rejected code leaves the flow in MfaRequired so the
// user can retry without the password; an expired challenge fails the flow.
func (f *AuthFlow) VerifyMFAWithToken(ctx context.Context, tempToken, code string) (TokenPair, error) {
	const op = "verify_mfa"
	if !validMFACode(code) {
		return TokenPair{}, f.reject(ctx, op, ErrInvalidMFACode)
	}
	if tempToken == "" {
		return TokenPair{}, f.reject(ctx, op, ErrNoPendingChallenge)
	}

	gen, from, err := f.begin(op, StateVerifyingMFA, StateMFARequired)
	if err != nil {
		if KindOf(err) == KindPolicy {
			f.obs.emit(ctx, auditEvent(auditEventPolicyRejected, op), err)
		}
		return TokenPair{}, err
	}

	if claims, ierr := jwt.Inspect(tempToken); ierr == nil && claims.Expired(f.now()) {
		err := newError(KindAuthentication, op, ErrChallengeExpired, nil)
		f.finish(gen, StateFailed, err, func() { f.challenge = nil })
		f.obs.inc(MetricMFAVerifyFailure)
		f.obs.transition(ctx, auditEventMFAFailure, "", from.String(), StateFailed.String(), err)
		return TokenPair{}, err
	}

	var pair TokenPair
	err = f.gw.Do(ctx, http.MethodPost, "/auth/mfa/verify", map[string]string{
		"temp_token": tempToken,
		"code":       code,
	}, &pair)
	if err == nil && (pair.AccessToken == "" || pair.RefreshToken == "") {
		err = newError(KindTransport, op, ErrMalformedResponse, nil)
	}
	if err != nil {
		err = classifyVerify(op, err)
		to := StateMFARequired
		var drop func()
		if errors.Is(err, ErrChallengeExpired) {
			to = StateFailed
			drop = func() { f.challenge = nil }
		}
		f.finish(gen, to, err, drop)
		f.obs.inc(MetricMFAVerifyFailure)
		f.obs.transition(ctx, auditEventMFAFailure, "", from.String(), to.String(), err)
		return TokenPair{}, err
	}

	var setErr error
	applied := f.finishLocked(gen, func() {
		if setErr = f.store.Set(ctx, pair.pair()); setErr != nil {
			f.state = StateMFARequired
			f.lastErr = newError(KindTransport, op, ErrCredentialPersist, setErr)
			return
		}
		f.challenge = nil
		f.state = StateAuthenticated
	})
	if !applied {
		return TokenPair{}, newError(KindTransport, op, ErrSuperseded, nil)
	}
	if setErr != nil {
		err := newError(KindTransport, op, ErrCredentialPersist, setErr)
		f.obs.inc(MetricMFAVerifyFailure)
		f.obs.transition(ctx, auditEventMFAFailure, "", from.String(), StateMFARequired.String(), err)
		return TokenPair{}, err
	}
	f.obs.inc(MetricMFAVerifySuccess)
	f.obs.inc(MetricLoginSuccess)
	f.obs.transition(ctx, auditEventMFASuccess, subjectOf(pair.AccessToken), from.String(), StateAuthenticated.String(), nil)
	return pair, nil
}

// Logout never fails. The collaborator is told on a best-effort basis; local
// credentials are cleared regardless and the flow returns to Idle.
func (f *AuthFlow) Logout(ctx context.Context) {
	f.mu.Lock()
	from := f.state
	f.gen++
	f.busy = false
	f.state = StateIdle
	f.challenge = nil
	f.lastErr = nil
	f.user = nil
	f.mu.Unlock()

	if f.store.IsAuthenticated() {
		body := map[string]string{}
		if pair, ok := f.store.Pair(); ok {
			body["refresh_token"] = pair.RefreshToken
		}
		if err := f.gw.Do(ctx, http.MethodPost, "/auth/logout", body, nil); err != nil {
			f.obs.log(ctx).Warn("logout call failed, clearing locally", "error", err.Error())
		}
	}
	if err := f.store.Clear(ctx); err != nil {
		f.obs.log(ctx).Error("credential clear failed", "error", err.Error())
	}
	f.obs.inc(MetricLogout)
	f.obs.transition(ctx, auditEventLogout, "", from.String(), StateIdle.String(), nil)
}

// Refresh exchanges the stored refresh token for a new access token. It is never
// called automatically.
func (f *AuthFlow) Refresh(ctx context.Context) error {
	const op = "refresh"
	pair, ok := f.store.Pair()
	if !ok || pair.RefreshToken == "" {
		return f.reject(ctx, op, ErrMissingRefreshToken)
	}
	f.mu.Lock()
	gen := f.gen
	f.mu.Unlock()

	var resp TokenPair
	err := f.gw.Do(ctx, http.MethodPost, "/auth/refresh?refresh_token="+url.QueryEscape(pair.RefreshToken), nil, &resp)
	if err == nil && resp.AccessToken == "" {
		err = newError(KindTransport, op, ErrMalformedResponse, nil)
	}
	if err != nil {
		err = classify(op, err, nil)
		f.obs.inc(MetricRefreshFailure)
		f.obs.emit(ctx, auditEvent(auditEventRefresh, op), err)
		return err
	}
	next := credential.Pair{AccessToken: resp.AccessToken, RefreshToken: pair.RefreshToken}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || !f.store.IsAuthenticated() {
		return newError(KindAuthorization, op, ErrSessionInvalid, nil)
	}
	if err := f.store.Set(ctx, next); err != nil {
		return newError(KindTransport, op, ErrCredentialPersist, err)
	}
	f.state = StateAuthenticated
	f.obs.inc(MetricRefreshSuccess)
	f.obs.emit(ctx, auditEvent(auditEventRefresh, op), nil)
	return nil
}

// Me fetches the current user and caches it for authorization checks.
func (f *AuthFlow) Me(ctx context.Context) (*User, error) {
	const op = "me"
	if !f.store.IsAuthenticated() {
		return nil, f.reject(ctx, op, ErrMissingAccessToken)
	}
	var u User
	if err := f.gw.Do(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, classify(op, err, nil)
	}
	f.mu.Lock()
	f.user = &u
	f.mu.Unlock()
	return &u, nil
}

// Register creates an account. It does not log in.
func (f *AuthFlow) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	const op = "register"
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return nil, f.reject(ctx, op, ErrEmailRequired)
	}
	if len(req.Password) < minPasswordLen {
		return nil, f.reject(ctx, op, ErrPasswordTooShort)
	}
	var u User
	if err := f.gw.Do(ctx, http.MethodPost, "/auth/register", req, &u); err != nil {
		return nil, classify(op, err, nil)
	}
	return &u, nil
}

// RequestPasswordReset asks the collaborator to send a reset link. Delivery is the
// collaborator's concern.
func (f *AuthFlow) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	const op = "forgot_password"
	email = strings.TrimSpace(email)
	if email == "" {
		return "", f.reject(ctx, op, ErrEmailRequired)
	}
	var m Message
	if err := f.gw.Do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, &m); err != nil {
		return "", classify(op, err, nil)
	}
	return m.Message, nil
}

// ResetPassword sets a new password using a reset token.
func (f *AuthFlow) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	const op = "reset_password"
	if strings.TrimSpace(token) == "" {
		return "", f.reject(ctx, op, ErrTokenRequired)
	}
	if len(newPassword) < minPasswordLen {
		return "", f.reject(ctx, op, ErrPasswordTooShort)
	}
	var m Message
	err := f.gw.Do(ctx, http.MethodPost, "/auth/reset-password", map[string]string{
		"token":        token,
		"new_password": newPassword,
	}, &m)
	if err != nil {
		return "", classify(op, err, ErrChallengeExpired, http.StatusBadRequest)
	}
	return m.Message, nil
}

// VerifyEmail confirms an address with the emailed token.
func (f *AuthFlow) VerifyEmail(ctx context.Context, token string) (string, error) {
	const op = "verify_email"
	if strings.TrimSpace(token) == "" {
		return "", f.reject(ctx, op, ErrTokenRequired)
	}
	var m Message
	if err := f.gw.Do(ctx, http.MethodGet, "/auth/verify-email?token="+url.QueryEscape(token), nil, &m); err != nil {
		return "", classify(op, err, ErrChallengeExpired, http.StatusBadRequest)
	}
	return m.Message, nil
}

// ResendVerification asks for a new verification email.
func (f *AuthFlow) ResendVerification(ctx context.Context, email string) (string, error) {
	const op = "resend_verification"
	email = strings.TrimSpace(email)
	if email == "" {
		return "", f.reject(ctx, op, ErrEmailRequired)
	}
	var m Message
	if err := f.gw.Do(ctx, http.MethodPost, "/auth/resend-verification", map[string]string{"email": email}, &m); err != nil {
		return "", classify(op, err, nil)
	}
	return m.Message, nil
}

// sessionInvalidated is called by the gateway hook after the store was cleared.
// It reports whether an established session was lost. Calls still in flight
// resolve their own state.
func (f *AuthFlow) sessionInvalidated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAuthenticated {
		return false
	}
	f.gen++
	f.state = StateIdle
	f.user = nil
	f.lastErr = newError(KindAuthorization, "session", ErrSessionInvalid, nil)
	return true
}

// restored marks the flow authenticated after the store was reloaded.
func (f *AuthFlow) restored() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateIdle && f.store.IsAuthenticated() {
		f.state = StateAuthenticated
	}
}

func (f *AuthFlow) reject(ctx context.Context, op string, sentinel error) error {
	err := validationError(op, sentinel)
	f.obs.emit(ctx, auditEvent(auditEventValidationRejected, op), err)
	return err
}

func validMFACode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func classifyLogin(op string, err error) error {
	if se, ok := gateway.AsStatus(err); ok {
		switch se.Status {
		case http.StatusUnauthorized:
			return newError(KindAuthentication, op, ErrInvalidCredentials, err)
		case http.StatusForbidden:
			return newError(KindAuthentication, op, ErrAccountInactive, err)
		}
	}
	return classify(op, err, nil)
}

// classifyVerify separates a rejected code from a dead challenge. The collaborator
// answers both with 401; only the detail names the token.
func classifyVerify(op string, err error) error {
	se, ok := gateway.AsStatus(err)
	if !ok {
		return classify(op, err, nil)
	}
	switch se.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		if strings.Contains(strings.ToLower(se.Detail), "token") {
			return newError(KindAuthentication, op, ErrChallengeExpired, err)
		}
		return newError(KindAuthentication, op, ErrMFACodeRejected, err)
	}
	return classify(op, err, nil)
}

func subjectOf(accessToken string) string {
	claims, err := jwt.Inspect(accessToken)
	if err != nil {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}
