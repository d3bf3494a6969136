package authtest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/permission"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pquerna/otp/totp"
)

const ctxAccountID = "authtest.account"

var roleNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// fieldError is one entry of a 422 detail list.
type fieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

func unprocessable(field, msg string) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, []fieldError{{
		Loc:  []any{"body", field},
		Msg:  msg,
		Type: "value_error",
	}})
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(s.count)

	api := e.Group(APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", s.login)
	auth.POST("/register", s.register)
	auth.POST("/refresh", s.refresh)
	auth.POST("/logout", s.logout)
	auth.POST("/forgot-password", s.forgotPassword)
	auth.POST("/reset-password", s.resetPassword)
	auth.GET("/verify-email", s.verifyEmail)
	auth.POST("/resend-verification", s.resendVerification)
	auth.GET("/me", s.me, s.authenticate)

	auth.POST("/mfa/verify", s.verifyMFA)
	auth.POST("/mfa/setup", s.setupMFA, s.authenticate)
	auth.POST("/mfa/enable", s.enableMFA, s.authenticate)
	auth.POST("/mfa/disable", s.disableMFA, s.authenticate)
	auth.GET("/mfa/status", s.mfaStatus, s.authenticate)
	auth.POST("/mfa/backup-codes/regenerate", s.regenerateBackupCodes, s.authenticate)

	roles := api.Group("/roles", s.authenticate)
	roles.GET("", s.listRoles, s.require("roles.read"))
	roles.GET("/permissions/all", s.listPermissions, s.require("roles.read"))
	roles.GET("/:id", s.getRole, s.require("roles.read"))
	roles.POST("", s.createRole, s.require("roles.create"))
	roles.PUT("/:id", s.updateRole, s.require("roles.update"))
	roles.DELETE("/:id", s.deleteRole, s.require("roles.delete"))
	roles.POST("/:id/permissions", s.assignPermissions, s.require("permissions.assign"))

	api.PATCH("/users/:id/role", s.assignUserRole, s.authenticate, s.require("users.assign_role"))

	return e
}

// errorHandler renders every error as {"detail": ...}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var detail any = http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = he.Message
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]any{"detail": detail})
}

func (s *Server) count(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := strings.TrimPrefix(c.Path(), APIPrefix)
		s.mu.Lock()
		s.total++
		s.calls[c.Request().Method+" "+route]++
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}
		claims, err := s.tokens.Parse(raw, jwt.TypeAccess)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}
		s.mu.Lock()
		a := s.accounts[claims.UserID]
		active := a != nil && a.active
		s.mu.Unlock()
		if a == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}
		if !active {
			return echo.NewHTTPError(http.StatusForbidden, "Inactive user")
		}
		c.Set(ctxAccountID, claims.UserID)
		return next(c)
	}
}

func (s *Server) require(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s.mu.Lock()
			a := s.current(c)
			ok := a != nil && s.granted(a, perm)
			s.mu.Unlock()
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "Not enough permissions")
			}
			return next(c)
		}
	}
}

// current returns the authenticated account. Caller holds mu.
func (s *Server) current(c echo.Context) *account {
	id, _ := c.Get(ctxAccountID).(string)
	return s.accounts[id]
}

/* ==== AUTH ==== */

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	a := s.lookup(req.Email)
	if a == nil || !verifyPassword(req.Password, a.passwordHash) {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusUnauthorized, "Incorrect email or password")
	}
	if !a.active {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusForbidden, "User account is inactive")
	}
	if !a.emailVerified {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusForbidden, "Please verify your email before logging in.")
	}
	id, email, role, mfa := a.id, a.email, s.roleName(a), a.mfaEnabled
	s.mu.Unlock()

	if mfa {
		temp, err := s.issue(jwt.TypeMFA, id, email, "")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{
			"mfa_required": true,
			"temp_token":   temp,
			"message":      "MFA verification required",
		})
	}
	return s.tokenPair(c, id, email, role)
}

func (s *Server) tokenPair(c echo.Context, id, email, role string) error {
	access, err := s.issue(jwt.TypeAccess, id, email, role)
	if err != nil {
		return err
	}
	refresh, err := s.issue(jwt.TypeRefresh, id, email, "")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) verifyMFA(c echo.Context) error {
	var req struct {
		TempToken string `json:"temp_token"`
		Code      string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	claims, err := s.tokens.Parse(req.TempToken, jwt.TypeMFA)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}

	s.mu.Lock()
	a := s.accounts[claims.UserID]
	if a == nil || !a.mfaEnabled {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}
	ok, _ := totp.ValidateCustom(req.Code, a.mfaSecret, s.now(), totpOpts)
	if !ok {
		ok = consumeBackupCode(a, req.Code)
	}
	if !ok {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid MFA code")
	}
	id, email, role := a.id, a.email, s.roleName(a)
	s.mu.Unlock()
	return s.tokenPair(c, id, email, role)
}

// refresh takes the token as a query parameter, not a body.
func (s *Server) refresh(c echo.Context) error {
	token := c.QueryParam("refresh_token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, []fieldError{{
			Loc:  []any{"query", "refresh_token"},
			Msg:  "field required",
			Type: "value_error",
		}})
	}
	claims, err := s.tokens.Parse(token, jwt.TypeRefresh)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
	}
	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	a := s.accounts[claims.UserID]
	if revoked || a == nil || !a.active {
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
	}
	id, email, role := a.id, a.email, s.roleName(a)
	s.mu.Unlock()

	access, err := s.issue(jwt.TypeAccess, id, email, role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token": access,
		"token_type":   "bearer",
	})
}

func (s *Server) logout(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if claims, err := s.tokens.Parse(req.RefreshToken, jwt.TypeRefresh); err == nil {
		s.mu.Lock()
		s.revoked[claims.ID] = struct{}{}
		s.mu.Unlock()
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) register(c echo.Context) error {
	var req struct {
		Email    string  `json:"email"`
		Username *string `json:"username"`
		FullName *string `json:"full_name"`
		Password string  `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if !strings.Contains(req.Email, "@") {
		return unprocessable("email", "value is not a valid email address")
	}
	if n := len(req.Password); n < 8 || n > 100 {
		return unprocessable("password", "password must be between 8 and 100 characters")
	}
	if req.Username != nil {
		if n := utf8.RuneCountInString(*req.Username); n < 3 || n > 50 {
			return unprocessable("username", "username must be between 3 and 50 characters")
		}
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(req.Email) != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Email already registered")
	}
	a := &account{
		id:           uuid.NewString(),
		email:        req.Email,
		username:     req.Username,
		fullName:     req.FullName,
		passwordHash: hashed,
		active:       true,
		roleID:       RoleUser,
	}
	s.addAccount(a)
	s.verifyToks[uuid.NewString()] = a.id
	return c.JSON(http.StatusCreated, s.userView(a))
}

func (s *Server) me(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current(c)
	if a == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
	}
	return c.JSON(http.StatusOK, s.userView(a))
}

func (s *Server) forgotPassword(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	if a := s.lookup(req.Email); a != nil {
		dropTokensFor(s.resetTokens, a.id)
		s.resetTokens[uuid.NewString()] = a.id
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{
		"message": "If the email exists, a password reset link has been sent",
	})
}

func (s *Server) resetPassword(c echo.Context) error {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if n := len(req.NewPassword); n < 8 || n > 100 {
		return unprocessable("new_password", "password must be between 8 and 100 characters")
	}
	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.resetTokens[req.Token]
	a := s.accounts[id]
	if !ok || a == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid or expired reset token")
	}
	a.passwordHash = hashed
	delete(s.resetTokens, req.Token)
	return c.JSON(http.StatusOK, map[string]string{"message": "Password has been reset successfully"})
}

func (s *Server) verifyEmail(c echo.Context) error {
	token := c.QueryParam("token")
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.verifyToks[token]
	a := s.accounts[id]
	if !ok || a == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid or expired verification token")
	}
	a.emailVerified = true
	delete(s.verifyToks, token)
	return c.JSON(http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *Server) resendVerification(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	if a := s.lookup(req.Email); a != nil && !a.emailVerified {
		dropTokensFor(s.verifyToks, a.id)
		s.verifyToks[uuid.NewString()] = a.id
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{
		"message": "If the email exists and is unverified, a verification link has been sent",
	})
}

/* ==== MFA ==== */

func (s *Server) setupMFA(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current(c)
	if a.mfaEnabled {
		return echo.NewHTTPError(http.StatusBadRequest, "MFA is already enabled")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "authtest",
		AccountName: a.email,
	})
	if err != nil {
		return err
	}
	img, err := key.Image(200, 200)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	a.pendingCodes = newBackupCodes()
	return c.JSON(http.StatusOK, map[string]any{
		"secret":       key.Secret(),
		"qr_code":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		"backup_codes": a.pendingCodes,
	})
}

func (s *Server) enableMFA(c echo.Context) error {
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Secret == "" {
		req.Secret = c.QueryParam("secret")
	}
	if req.Code == "" {
		req.Code = c.QueryParam("code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current(c)
	if a.mfaEnabled {
		return echo.NewHTTPError(http.StatusBadRequest, "MFA is already enabled")
	}
	if req.Secret == "" {
		return unprocessable("secret", "field required")
	}
	if ok, _ := totp.ValidateCustom(req.Code, req.Secret, s.now(), totpOpts); !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid verification code")
	}
	a.mfaSecret = req.Secret
	a.mfaEnabled = true
	a.backupCodes = a.pendingCodes
	if len(a.backupCodes) == 0 {
		a.backupCodes = newBackupCodes()
	}
	a.pendingCodes = nil
	return c.JSON(http.StatusOK, map[string]string{"message": "MFA enabled successfully"})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// checkPassword enforces MFA enabled and the current password. Caller holds mu.
func checkPassword(a *account, password string) error {
	if !a.mfaEnabled {
		return echo.NewHTTPError(http.StatusBadRequest, "MFA is not enabled")
	}
	if !verifyPassword(password, a.passwordHash) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Incorrect password")
	}
	return nil
}

func (s *Server) disableMFA(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current(c)
	if err := checkPassword(a, req.Password); err != nil {
		return err
	}
	a.mfaEnabled = false
	a.mfaSecret = ""
	a.backupCodes = nil
	return c.JSON(http.StatusOK, map[string]string{"message": "MFA disabled successfully"})
}

func (s *Server) mfaStatus(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]bool{"mfa_enabled": s.current(c).mfaEnabled})
}

func (s *Server) regenerateBackupCodes(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current(c)
	if err := checkPassword(a, req.Password); err != nil {
		return err
	}
	a.backupCodes = newBackupCodes()
	return c.JSON(http.StatusOK, map[string]any{
		"backup_codes": a.backupCodes,
		"message":      "Backup codes regenerated successfully",
	})
}

func consumeBackupCode(a *account, code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, bc := range a.backupCodes {
		if bc == code {
			a.backupCodes = append(a.backupCodes[:i], a.backupCodes[i+1:]...)
			return true
		}
	}
	return false
}

/* ==== ROLES ==== */

func (s *Server) listRoles(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.roles))
	for id := range s.roles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]roleSummary, 0, len(ids))
	for _, id := range ids {
		r := s.roleView(s.roles[id])
		out = append(out, roleSummary{
			ID:              r.ID,
			Name:            r.Name,
			DisplayName:     r.DisplayName,
			Description:     r.Description,
			IsSystemRole:    r.IsSystemRole,
			PermissionCount: len(r.Permissions),
			UserCount:       r.UserCount,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// roleSummary is the list view of a role: a count instead of the permissions.
type roleSummary struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	DisplayName     string  `json:"display_name"`
	Description     *string `json:"description"`
	IsSystemRole    bool    `json:"is_system_role"`
	PermissionCount int     `json:"permission_count"`
	UserCount       int     `json:"user_count"`
}

func (s *Server) listPermissions(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grouped := map[string][]permission.Permission{}
	for _, p := range s.perms {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]permission.Category, 0, len(names))
	for _, name := range names {
		out = append(out, permission.Category{Category: name, Permissions: grouped[name]})
	}
	return c.JSON(http.StatusOK, out)
}

// roleParam resolves :id. Caller holds mu.
func (s *Server) roleParam(c echo.Context) (*permission.Role, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, []fieldError{{
			Loc: []any{"path", "role_id"}, Msg: "value is not a valid integer", Type: "type_error.integer",
		}})
	}
	r, ok := s.roles[id]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Role with ID %d not found", id))
	}
	return r, nil
}

func (s *Server) getRole(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roleParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.roleView(r))
}

// permissionsByID resolves ids or reports false if any is unknown. Caller holds mu.
func (s *Server) permissionsByID(ids []int) ([]permission.Permission, bool) {
	out := make([]permission.Permission, 0, len(ids))
	seen := map[int]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if id < 1 || id > len(s.perms) {
			return nil, false
		}
		out = append(out, s.perms[id-1])
	}
	return out, true
}

func (s *Server) createRole(c echo.Context) error {
	var req struct {
		Name          string  `json:"name"`
		DisplayName   string  `json:"display_name"`
		Description   *string `json:"description"`
		PermissionIDs []int   `json:"permission_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	if n := len(req.Name); n == 0 || n > 50 || !roleNamePattern.MatchString(req.Name) {
		return unprocessable("name", "name must be lowercase letters, digits and underscores")
	}
	if n := utf8.RuneCountInString(req.DisplayName); n == 0 || n > 100 {
		return unprocessable("display_name", "display_name must be between 1 and 100 characters")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == req.Name {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Role with name '%s' already exists", req.Name))
		}
	}
	perms, ok := s.permissionsByID(req.PermissionIDs)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "One or more permission IDs are invalid")
	}
	r := &permission.Role{
		ID:          s.nextRole,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Permissions: perms,
	}
	s.nextRole++
	s.roles[r.ID] = r
	return c.JSON(http.StatusCreated, s.roleView(r))
}

func (s *Server) updateRole(c echo.Context) error {
	var req struct {
		DisplayName *string `json:"display_name"`
		Description *string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roleParam(c)
	if err != nil {
		return err
	}
	if r.IsSystemRole {
		return echo.NewHTTPError(http.StatusForbidden, "Cannot update system roles")
	}
	if req.DisplayName != nil {
		r.DisplayName = *req.DisplayName
	}
	if req.Description != nil {
		r.Description = req.Description
	}
	return c.JSON(http.StatusOK, s.roleView(r))
}

func (s *Server) deleteRole(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roleParam(c)
	if err != nil {
		return err
	}
	if r.IsSystemRole {
		return echo.NewHTTPError(http.StatusForbidden, "Cannot delete system roles")
	}
	if n := s.roleView(r).UserCount; n > 0 {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("Cannot delete role with %d assigned user(s). Reassign users first.", n))
	}
	delete(s.roles, r.ID)
	return c.JSON(http.StatusOK, map[string]string{"message": "Role deleted successfully"})
}

func (s *Server) assignPermissions(c echo.Context) error {
	var req struct {
		PermissionIDs []int `json:"permission_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roleParam(c)
	if err != nil {
		return err
	}
	if r.IsSystemRole {
		return echo.NewHTTPError(http.StatusForbidden, "Cannot modify permissions of system roles")
	}
	perms, ok := s.permissionsByID(req.PermissionIDs)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "One or more permission IDs are invalid")
	}
	r.Permissions = perms
	return c.JSON(http.StatusOK, s.roleView(r))
}

func (s *Server) assignUserRole(c echo.Context) error {
	var req struct {
		RoleID int `json:"role_id"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[c.Param("id")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}
	if _, ok := s.roles[req.RoleID]; !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Role not found")
	}
	a.roleID = req.RoleID
	return c.JSON(http.StatusOK, s.userView(a))
}

func dropTokensFor(tokens map[string]string, accountID string) {
	for tok, id := range tokens {
		if id == accountID {
			delete(tokens, tok)
		}
	}
}
