package authtest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/permission"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Seeded accounts. Every account uses Password.
const (
	Password = "s3cret-pass"

	UserEmail       = "a@x.com"
	MFAEmail        = "mfa@x.com"
	SuperuserEmail  = "root@x.com"
	InactiveEmail   = "off@x.com"
	UnverifiedEmail = "new@x.com"

	// MFASecret is the TOTP secret of MFAEmail.
	MFASecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	// BackupCodeCount is how many backup codes setup and regeneration return.
	BackupCodeCount = 10
)

// Seeded role ids. Ids 1 to 5 are system roles.
const (
	RoleSuperAdmin = iota + 1
	RoleAdmin
	RoleManager
	RoleAnalyst
	RoleUser
	RoleSupport
)

// APIPrefix is the path every route is mounted under.
const APIPrefix = "/api"

const backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type account struct {
	id            string
	email         string
	username      *string
	fullName      *string
	passwordHash  string
	active        bool
	superuser     bool
	emailVerified bool
	roleID        int
	mfaSecret     string
	mfaEnabled    bool
	backupCodes   []string
	pendingCodes  []string
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the clock used for TOTP validation.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenTTL sets the access and MFA temp token lifetimes.
func WithTokenTTL(access, mfa time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = access
		s.mfaTTL = mfa
	}
}

// Server is the fake collaborator. It implements http.Handler.
type Server struct {
	echo      *echo.Echo
	tokens    *jwt.Manager
	now       func() time.Time
	accessTTL time.Duration
	mfaTTL    time.Duration

	mu          sync.Mutex
	accounts    map[string]*account
	byEmail     map[string]string
	roles       map[int]*permission.Role
	perms       []permission.Permission
	nextRole    int
	revoked     map[string]struct{}
	resetTokens map[string]string
	verifyToks  map[string]string
	calls       map[string]int
	total       int

	httpSrv *httptest.Server
}

// NewServer builds a seeded server. It does not listen; use Start in tests or
// ListenAndServe for a standalone process.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		now:         time.Now,
		accounts:    map[string]*account{},
		byEmail:     map[string]string{},
		roles:       map[int]*permission.Role{},
		revoked:     map[string]struct{}{},
		resetTokens: map[string]string{},
		verifyToks:  map[string]string{},
		calls:       map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
		Issuer:        "authtest",
		AccessTTL:     s.accessTTL,
		MFATTL:        s.mfaTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("authtest: token manager: %w", err)
	}
	s.tokens = tokens

	s.seed()
	s.echo = s.router()
	return s, nil
}

// Start runs a seeded server on a loopback port for the duration of the test.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(opts...)
	if err != nil {
		t.Fatalf("authtest: %v", err)
	}
	s.httpSrv = httptest.NewServer(s)
	t.Cleanup(s.httpSrv.Close)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// BaseURL is the value to configure as the client's backend base URL. It is only
// set after Start.
func (s *Server) BaseURL() string {
	if s.httpSrv == nil {
		return ""
	}
	return s.httpSrv.URL + APIPrefix
}

// Code returns the current TOTP code for secret.
func (s *Server) Code(secret string) string {
	code, err := totp.GenerateCodeCustom(secret, s.now(), totpOpts)
	if err != nil {
		panic(err)
	}
	return code
}

// WrongCode returns a well formed code that does not validate for secret now.
func (s *Server) WrongCode(secret string) string {
	now := s.now()
	for i := 0; i < 1000000; i++ {
		code := fmt.Sprintf("%06d", (i*7919+13)%1000000)
		ok, _ := totp.ValidateCustom(code, secret, now, totpOpts)
		if !ok {
			return code
		}
	}
	return "000000"
}

// Calls returns how many requests reached route, for example
// Calls(http.MethodPost, "/roles/:id/permissions").
func (s *Server) Calls(method, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+route]
}

// TotalCalls returns the number of requests served.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
	s.total = 0
}

// UserID returns the id of a seeded or registered account.
func (s *Server) UserID(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byEmail[strings.ToLower(email)]
}

// MFAEnabled reports the server side MFA flag of an account.
func (s *Server) MFAEnabled(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.lookup(email)
	return a != nil && a.mfaEnabled
}

// RolePermissionIDs returns the server side permission set of a role.
func (s *Server) RolePermissionIDs(roleID int) permission.IDSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil
	}
	return r.PermissionIDs()
}

// ResetToken returns the last password reset token issued for email.
func (s *Server) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.resetTokens {
		if a := s.accounts[id]; a != nil && strings.EqualFold(a.email, email) {
			return tok
		}
	}
	return ""
}

// VerificationToken returns the pending email verification token for email.
func (s *Server) VerificationToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.verifyToks {
		if a := s.accounts[id]; a != nil && strings.EqualFold(a.email, email) {
			return tok
		}
	}
	return ""
}

// IssueAccessToken signs an access token for email without a login round trip.
func (s *Server) IssueAccessToken(email string) (string, error) {
	s.mu.Lock()
	a := s.lookup(email)
	var role string
	if a != nil {
		role = s.roleName(a)
	}
	s.mu.Unlock()
	if a == nil {
		return "", fmt.Errorf("authtest: unknown account %q", email)
	}
	return s.issue(jwt.TypeAccess, a.id, a.email, role)
}

func (s *Server) lookup(email string) *account {
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil
	}
	return s.accounts[id]
}

func (s *Server) issue(typ jwt.TokenType, userID, email, role string) (string, error) {
	claims := jwt.Claims{UserID: userID, Role: role}
	claims.Subject = email
	claims.ID = uuid.NewString()
	return s.tokens.Issue(typ, claims)
}

// roleName returns the name of a's role. Caller holds mu.
func (s *Server) roleName(a *account) string {
	if r, ok := s.roles[a.roleID]; ok {
		return r.Name
	}
	return ""
}

func (s *Server) addAccount(a *account) {
	s.accounts[a.id] = a
	s.byEmail[strings.ToLower(a.email)] = a.id
}

func (s *Server) seed() {
	seedPerms := []struct{ name, category, action, desc string }{
		{"system.*", "system", "all", "All system permissions"},
		{"roles.create", "roles", "create", "Create new roles"},
		{"roles.read", "roles", "read", "View roles"},
		{"roles.update", "roles", "update", "Update roles"},
		{"roles.delete", "roles", "delete", "Delete roles"},
		{"permissions.assign", "permissions", "assign", "Assign permissions to roles"},
		{"users.create", "users", "create", "Create new users"},
		{"users.read", "users", "read", "View users"},
		{"users.update", "users", "update", "Update user information"},
		{"users.delete", "users", "delete", "Delete users"},
		{"users.assign_role", "users", "assign_role", "Assign roles to users"},
		{"products.create", "products", "create", "Create products"},
		{"products.read", "products", "read", "View products"},
		{"products.update", "products", "update", "Update products"},
		{"products.delete", "products", "delete", "Delete products"},
		{"payments.read", "payments", "read", "View payments"},
		{"payments.refund", "payments", "refund", "Process refunds"},
		{"analytics.read", "analytics", "read", "View analytics"},
		{"analytics.export", "analytics", "export", "Export analytics data"},
		{"dashboard.read", "dashboard", "read", "View dashboard"},
		{"profile.read", "profile", "read", "View own profile"},
		{"profile.update", "profile", "update", "Update own profile"},
		{"notifications.read", "notifications", "read", "View notifications"},
		{"notifications.send", "notifications", "send", "Send notifications"},
	}
	byName := map[string]permission.Permission{}
	for i, p := range seedPerms {
		desc := p.desc
		perm := permission.Permission{ID: i + 1, Name: p.name, Category: p.category, Action: p.action, Description: &desc}
		s.perms = append(s.perms, perm)
		byName[p.name] = perm
	}
	pick := func(names ...string) []permission.Permission {
		out := make([]permission.Permission, 0, len(names))
		for _, n := range names {
			out = append(out, byName[n])
		}
		return out
	}
	var adminPerms []permission.Permission
	for _, p := range s.perms {
		if strings.HasPrefix(p.Name, "system.") || strings.HasPrefix(p.Name, "roles.") || strings.HasPrefix(p.Name, "permissions.") {
			continue
		}
		adminPerms = append(adminPerms, p)
	}

	seedRoles := []struct {
		id          int
		name, title string
		system      bool
		perms       []permission.Permission
	}{
		{RoleSuperAdmin, "super_admin", "Super Admin", true, append([]permission.Permission(nil), s.perms...)},
		{RoleAdmin, "admin", "Admin", true, adminPerms},
		{RoleManager, "manager", "Manager", true, pick("users.read", "users.update", "products.create", "products.read",
			"products.update", "payments.read", "analytics.read", "dashboard.read", "profile.read", "profile.update",
			"notifications.read", "notifications.send")},
		{RoleAnalyst, "analyst", "Analyst", true, pick("users.read", "products.read", "payments.read", "analytics.read",
			"analytics.export", "dashboard.read", "profile.read", "profile.update", "notifications.read")},
		{RoleUser, "user", "User", true, pick("dashboard.read", "profile.read", "profile.update", "notifications.read")},
		{RoleSupport, "support", "Support", false, pick("users.read", "dashboard.read", "notifications.read")},
	}
	for _, r := range seedRoles {
		s.roles[r.id] = &permission.Role{
			ID:           r.id,
			Name:         r.name,
			DisplayName:  r.title,
			IsSystemRole: r.system,
			Permissions:  r.perms,
		}
	}
	s.nextRole = RoleSupport + 1

	hashed := mustHash(Password)
	s.addAccount(&account{id: uuid.NewString(), email: UserEmail, passwordHash: hashed, active: true, emailVerified: true, roleID: RoleUser})
	s.addAccount(&account{id: uuid.NewString(), email: MFAEmail, passwordHash: hashed, active: true, emailVerified: true, roleID: RoleAnalyst,
		mfaSecret: MFASecret, mfaEnabled: true, backupCodes: newBackupCodes()})
	s.addAccount(&account{id: uuid.NewString(), email: SuperuserEmail, passwordHash: hashed, active: true, emailVerified: true, superuser: true, roleID: RoleSuperAdmin})
	s.addAccount(&account{id: uuid.NewString(), email: InactiveEmail, passwordHash: hashed, active: false, emailVerified: true, roleID: RoleUser})
	s.addAccount(&account{id: uuid.NewString(), email: UnverifiedEmail, passwordHash: hashed, active: true, roleID: RoleUser})
	s.verifyToks[uuid.NewString()] = s.byEmail[UnverifiedEmail]
}

// userView renders a with its role's permissions denormalized. Caller holds mu.
func (s *Server) userView(a *account) map[string]any {
	out := map[string]any{
		"id":           a.id,
		"email":        a.email,
		"is_active":    a.active,
		"is_superuser": a.superuser,
		"mfa_enabled":  a.mfaEnabled,
		"permissions":  []string{},
	}
	if a.username != nil {
		out["username"] = *a.username
	}
	if a.fullName != nil {
		out["full_name"] = *a.fullName
	}
	if r, ok := s.roles[a.roleID]; ok {
		out["role_id"] = r.ID
		out["role_name"] = r.Name
		out["role_display_name"] = r.DisplayName
		names := make([]string, 0, len(r.Permissions))
		for _, p := range r.Permissions {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		out["permissions"] = names
	}
	return out
}

// roleView returns a copy of r with its user count. Caller holds mu.
func (s *Server) roleView(r *permission.Role) permission.Role {
	out := *r
	out.Permissions = append([]permission.Permission(nil), r.Permissions...)
	out.UserCount = 0
	for _, a := range s.accounts {
		if a.roleID == r.ID {
			out.UserCount++
		}
	}
	return out
}

// granted reports whether a may use perm. Caller holds mu.
func (s *Server) granted(a *account, perm string) bool {
	if a.superuser {
		return true
	}
	r, ok := s.roles[a.roleID]
	if !ok {
		return false
	}
	for _, p := range r.Permissions {
		if p.Name == perm || p.Name == "system.*" {
			return true
		}
	}
	return false
}

func newBackupCodes() []string {
	codes := make([]string, BackupCodeCount)
	buf := make([]byte, 8)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for j := range buf {
			buf[j] = backupAlphabet[int(buf[j])%len(backupAlphabet)]
		}
		codes[i] = string(buf)
	}
	return codes
}
