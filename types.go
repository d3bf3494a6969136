package authcore

import (
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/permission"
	"github.com/pquerna/otp"
)

// User is the record returned by GET /auth/me. Permissions are denormalized from
// the user's role at fetch time.
type User struct {
	ID              string   `json:"id"`
	Email           string   `json:"email"`
	Username        *string  `json:"username,omitempty"`
	FullName        *string  `json:"full_name,omitempty"`
	IsActive        bool     `json:"is_active"`
	IsSuperuser     bool     `json:"is_superuser"`
	RoleID          *int     `json:"role_id,omitempty"`
	RoleName        string   `json:"role_name,omitempty"`
	RoleDisplayName string   `json:"role_display_name,omitempty"`
	MFAEnabled      bool     `json:"mfa_enabled"`
	Permissions     []string `json:"permissions"`
}

// Superuser implements permission.Subject.
func (u *User) Superuser() bool { return u != nil && u.IsSuperuser }

// Granted implements permission.Subject.
func (u *User) Granted(name string) bool {
	return u != nil && slices.Contains(u.Permissions, name)
}

// Can reports whether the user holds the named permission. Superusers hold all.
func (u *User) Can(name string) bool {
	if u == nil {
		return false
	}
	return permission.Can(u, name)
}

// TokenPair is the login branch that carries credentials.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

func (p TokenPair) pair() credential.Pair {
	return credential.Pair{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

// MFAChallenge is the login branch that requires a second factor. It lives only in
// the AuthFlow's working memory.
type MFAChallenge struct {
	TempToken string
	Message   string
}

// LoginResult is exactly one of TokenPair or MFAChallenge.
type LoginResult interface {
	isLoginResult()
}

func (TokenPair) isLoginResult()    {}
func (MFAChallenge) isLoginResult() {}

// loginResponse is the collaborator's wire shape for POST /auth/login.
type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	MFARequired  bool   `json:"mfa_required"`
	TempToken    string `json:"temp_token"`
	Message      string `json:"message"`
}

// result picks the branch by the discriminant. A response claiming neither branch
// fully is reported as nil.
func (r loginResponse) result() LoginResult {
	if r.MFARequired {
		if r.TempToken == "" {
			return nil
		}
		return MFAChallenge{TempToken: r.TempToken, Message: r.Message}
	}
	if r.AccessToken == "" || r.RefreshToken == "" {
		return nil
	}
	return TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken, TokenType: r.TokenType}
}

// MFAEnrollment is the provisioning material returned by POST /auth/mfa/setup.
// It is never persisted.
type MFAEnrollment struct {
	Secret      string   `json:"secret"`
	QRImage     string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// OTPKey builds an otpauth key from the secret so the QR can be re-rendered
// without the image.
func (m MFAEnrollment) OTPKey(issuer, account string) (*otp.Key, error) {
	if m.Secret == "" {
		return nil, ErrEmptySecret
	}
	if issuer == "" {
		issuer = "authcore"
	}
	v := "otpauth://totp/" + escapeLabel(issuer) + ":" + escapeLabel(account) +
		"?secret=" + m.Secret + "&issuer=" + escapeLabel(issuer) + "&algorithm=SHA1&digits=6&period=30"
	return otp.NewKeyFromURL(v)
}

func escapeLabel(s string) string {
	return strings.NewReplacer(" ", "%20", ":", "%3A", "&", "%26", "?", "%3F", "#", "%23").Replace(s)
}

func (m *MFAEnrollment) wipe() {
	if m == nil {
		return
	}
	m.Secret = ""
	m.QRImage = ""
	for i := range m.BackupCodes {
		m.BackupCodes[i] = ""
	}
	m.BackupCodes = nil
}

// MFAStatus is the response of GET /auth/mfa/status.
type MFAStatus struct {
	Enabled bool `json:"mfa_enabled"`
}

// BackupCodes is the response of the regeneration endpoint.
type BackupCodes struct {
	Codes   []string `json:"backup_codes"`
	Message string   `json:"message,omitempty"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string  `json:"email"`
	Username *string `json:"username,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Password string  `json:"password"`
}

// SessionInfo describes the stored access token without verifying it.
type SessionInfo struct {
	Authenticated bool
	UserID        string
	Subject       string
	Role          string
	ExpiresAt     time.Time
	Expired       bool
	Opaque        bool
}

// Message is the common {"message": ...} acknowledgement.
type Message struct {
	Message string `json:"message"`
}
