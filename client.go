package authcore

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/gateway"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/redis/go-redis/v9"
)

// SessionInvalidFunc is called after an established session was cleared because
// the collaborator answered 401 or 403.
type SessionInvalidFunc func(ctx context.Context, err error)

// Client owns the credential store and wires the gateway, the authentication flow,
// MFA enrollment and the role service around it. Build one with [New].
type Client struct {
	config    Config
	store     *credential.Store
	gateway   *gateway.Gateway
	flow      *AuthFlow
	roles     *RoleService
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	obs       *observer
	redis     redis.UniversalClient
	ownsRedis bool
	onInvalid SessionInvalidFunc
}

// Close flushes queued audit events and releases a Redis client the builder
// created. It is safe to call more than once.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.audit.Close()
	if c.ownsRedis && c.redis != nil {
		err := c.redis.Close()
		c.redis = nil
		return err
	}
	return nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config { return c.config }

// Store exposes read access to the credential store.
func (c *Client) Store() credential.Reader { return c.store }

// Requester exposes the gateway for non-auth calls that should follow the same
// credential and session-invalid policy.
func (c *Client) Requester() gateway.Requester { return c.gateway }

func (c *Client) Flow() *AuthFlow { return c.flow }

func (c *Client) Roles() *RoleService { return c.roles }

// AuditDropped reports events dropped because the audit buffer was full.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}

func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// Metrics returns the live counters, for exporters.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Restore reloads a persisted credential pair. When one is found the flow starts
// in Authenticated.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	ok, err := c.store.Restore(ctx)
	if err != nil {
		return false, newError(KindTransport, "restore", ErrCredentialPersist, err)
	}
	if ok {
		c.flow.restored()
	}
	return ok, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	return c.flow.Login(ctx, email, password)
}

func (c *Client) VerifyMFA(ctx context.Context, code string) (TokenPair, error) {
	return c.flow.VerifyMFA(ctx, code)
}

func (c *Client) Logout(ctx context.Context) { c.flow.Logout(ctx) }

func (c *Client) Me(ctx context.Context) (*User, error) { return c.flow.Me(ctx) }

// CurrentUser returns the user cached by the last Me, or nil.
func (c *Client) CurrentUser() *User { return c.flow.CurrentUser() }

// Can checks the cached user. It is false before Me has succeeded.
func (c *Client) Can(name string) bool {
	return c.flow.CurrentUser().Can(name)
}

// NewEnrollment starts an MFA enrollment workflow. onEnabled runs after the user
// acknowledges the backup codes.
func (c *Client) NewEnrollment(onEnabled func()) *Enrollment {
	return newEnrollment(c.gateway, c.obs, c.config.MFA.Issuer, func() {
		c.flow.mu.Lock()
		if c.flow.user != nil {
			u := *c.flow.user
			u.MFAEnabled = true
			c.flow.user = &u
		}
		c.flow.mu.Unlock()
		if onEnabled != nil {
			onEnabled()
		}
	})
}

// DisableMFA turns MFA off after re-authenticating with the current password. A
// wrong password is answered with 401 and ends the session.
func (c *Client) DisableMFA(ctx context.Context, password string) error {
	const op = "mfa_disable"
	if password == "" {
		err := validationError(op, ErrPasswordRequired)
		c.obs.emit(ctx, auditEvent(auditEventValidationRejected, op), err)
		return err
	}
	err := c.gateway.Do(ctx, http.MethodPost, "/auth/mfa/disable", map[string]string{"password": password}, nil)
	if err != nil {
		err = classify(op, err, nil)
		c.obs.emit(ctx, auditEvent(auditEventMFADisabled, op), err)
		return err
	}
	c.flow.mu.Lock()
	if c.flow.user != nil {
		u := *c.flow.user
		u.MFAEnabled = false
		c.flow.user = &u
	}
	c.flow.mu.Unlock()
	c.obs.inc(MetricMFADisabled)
	c.obs.emit(ctx, auditEvent(auditEventMFADisabled, op), nil)
	return nil
}

// MFAStatus reports whether MFA is enabled for the current account.
func (c *Client) MFAStatus(ctx context.Context) (MFAStatus, error) {
	var st MFAStatus
	if err := c.gateway.Do(ctx, http.MethodGet, "/auth/mfa/status", nil, &st); err != nil {
		return MFAStatus{}, classify("mfa_status", err, nil)
	}
	return st, nil
}

// RegenerateBackupCodes replaces every backup code. The password is required and
// a wrong one ends the session.
func (c *Client) RegenerateBackupCodes(ctx context.Context, password string) (BackupCodes, error) {
	const op = "mfa_backup_codes"
	if password == "" {
		err := validationError(op, ErrPasswordRequired)
		c.obs.emit(ctx, auditEvent(auditEventValidationRejected, op), err)
		return BackupCodes{}, err
	}
	var out BackupCodes
	err := c.gateway.Do(ctx, http.MethodPost, "/auth/mfa/backup-codes/regenerate", map[string]string{"password": password}, &out)
	if err != nil {
		err = classify(op, err, nil)
		c.obs.emit(ctx, auditEvent(auditEventBackupCodesRegenerate, op), err)
		return BackupCodes{}, err
	}
	c.obs.inc(MetricBackupCodesRegenerated)
	c.obs.emit(ctx, auditEvent(auditEventBackupCodesRegenerate, op), nil)
	return out, nil
}

// SessionInfo reads the stored access token's claims without verifying them. An
// opaque token yields Opaque=true with no claims.
func (c *Client) SessionInfo() SessionInfo {
	token, ok := c.store.AccessToken()
	if !ok {
		return SessionInfo{}
	}
	info := SessionInfo{Authenticated: true}
	claims, err := jwt.Inspect(token)
	if err != nil {
		info.Opaque = true
		return info
	}
	info.UserID = claims.UserID
	info.Subject = claims.Subject
	info.Role = claims.Role
	if exp, ok := claims.Expiry(); ok {
		info.ExpiresAt = exp
		info.Expired = claims.Expired(time.Now())
	}
	return info
}

// sessionInvalid is the gateway hook. The store is already empty.
func (c *Client) sessionInvalid(ctx context.Context, se *gateway.StatusError) {
	if !c.flow.sessionInvalidated() {
		return
	}
	err := newError(KindAuthorization, "session", ErrSessionInvalid, se)
	c.obs.inc(MetricSessionInvalidated)
	c.obs.transition(ctx, auditEventSessionInvalidated, "", StateAuthenticated.String(), StateIdle.String(), err)
	if c.onInvalid != nil {
		c.onInvalid(ctx, err)
	}
}

func (c *Client) observeRequest(_, _ string, _ int, d time.Duration) {
	c.metrics.Observe(MetricRequestLatency, d)
}
