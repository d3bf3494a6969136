package authtest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func call(t *testing.T, s *Server, method, path, token string, in any, out any) int {
	t.Helper()
	var body bytes.Buffer
	if in != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(in))
	}
	req, err := http.NewRequest(method, s.BaseURL()+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLoginRejectsWrongPasswordWithDetail(t *testing.T) {
	s := Start(t)
	var body map[string]any
	status := call(t, s, http.MethodPost, "/auth/login", "", map[string]string{
		"email": UserEmail, "password": "wrong",
	}, &body)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Incorrect email or password", body["detail"])
	require.Equal(t, 1, s.Calls(http.MethodPost, "/auth/login"))
}

func TestLoginInactiveAndUnverifiedAreForbidden(t *testing.T) {
	s := Start(t)
	for _, email := range []string{InactiveEmail, UnverifiedEmail} {
		status := call(t, s, http.MethodPost, "/auth/login", "", map[string]string{
			"email": email, "password": Password,
		}, nil)
		require.Equal(t, http.StatusForbidden, status, email)
	}
}

func TestMFALoginRoundTrip(t *testing.T) {
	s := Start(t)
	var challenge struct {
		MFARequired bool   `json:"mfa_required"`
		TempToken   string `json:"temp_token"`
	}
	status := call(t, s, http.MethodPost, "/auth/login", "", map[string]string{
		"email": MFAEmail, "password": Password,
	}, &challenge)
	require.Equal(t, http.StatusOK, status)
	require.True(t, challenge.MFARequired)
	require.NotEmpty(t, challenge.TempToken)

	var rejected map[string]any
	status = call(t, s, http.MethodPost, "/auth/mfa/verify", "", map[string]string{
		"temp_token": challenge.TempToken, "code": s.WrongCode(MFASecret),
	}, &rejected)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Invalid MFA code", rejected["detail"])

	status = call(t, s, http.MethodPost, "/auth/mfa/verify", "", map[string]string{
		"temp_token": "not-a-token", "code": s.Code(MFASecret),
	}, &rejected)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Invalid or expired token", rejected["detail"])

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status = call(t, s, http.MethodPost, "/auth/mfa/verify", "", map[string]string{
		"temp_token": challenge.TempToken, "code": s.Code(MFASecret),
	}, &pair)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestRefreshTakesTokenAsQueryParameter(t *testing.T) {
	s := Start(t)
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/auth/login", "", map[string]string{
		"email": UserEmail, "password": Password,
	}, &pair))

	status := call(t, s, http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	var out map[string]string
	status = call(t, s, http.MethodPost, "/auth/refresh?refresh_token="+url.QueryEscape(pair.RefreshToken), "", nil, &out)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, out["access_token"])
}

func TestRolesRequirePermissionAndProtectSystemRoles(t *testing.T) {
	s := Start(t)
	user, err := s.IssueAccessToken(UserEmail)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, call(t, s, http.MethodGet, "/roles", user, nil, nil))
	require.Equal(t, http.StatusUnauthorized, call(t, s, http.MethodGet, "/roles", "", nil, nil))

	root, err := s.IssueAccessToken(SuperuserEmail)
	require.NoError(t, err)
	var roles []map[string]any
	require.Equal(t, http.StatusOK, call(t, s, http.MethodGet, "/roles", root, nil, &roles))
	require.Len(t, roles, RoleSupport)
	require.Contains(t, roles[0], "permission_count")
	require.NotContains(t, roles[0], "permissions")

	status := call(t, s, http.MethodPost, "/roles/1/permissions", root, map[string][]int{"permission_ids": {1}}, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, 1, s.Calls(http.MethodPost, "/roles/:id/permissions"))

	status = call(t, s, http.MethodPost, "/roles/6/permissions", root, map[string][]int{"permission_ids": {999}}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status = call(t, s, http.MethodPost, "/roles/6/permissions", root, map[string][]int{"permission_ids": {3, 8}}, nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, s.RolePermissionIDs(RoleSupport).Equal(map[int]struct{}{3: {}, 8: {}}))
}

func TestEnrollmentEndpoints(t *testing.T) {
	s := Start(t)
	token, err := s.IssueAccessToken(UserEmail)
	require.NoError(t, err)

	var setup struct {
		Secret      string   `json:"secret"`
		QRCode      string   `json:"qr_code"`
		BackupCodes []string `json:"backup_codes"`
	}
	require.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/auth/mfa/setup", token, nil, &setup))
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.QRCode, "data:image/png;base64,")
	require.Len(t, setup.BackupCodes, BackupCodeCount)

	status := call(t, s, http.MethodPost, "/auth/mfa/enable", token, map[string]string{
		"secret": setup.Secret, "code": s.WrongCode(setup.Secret),
	}, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.False(t, s.MFAEnabled(UserEmail))

	status = call(t, s, http.MethodPost, "/auth/mfa/enable", token, map[string]string{
		"secret": setup.Secret, "code": s.Code(setup.Secret),
	}, nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, s.MFAEnabled(UserEmail))

	require.Equal(t, http.StatusUnauthorized, call(t, s, http.MethodPost, "/auth/mfa/disable", token,
		map[string]string{"password": "nope"}, nil))
	require.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/auth/mfa/disable", token,
		map[string]string{"password": Password}, nil))
	require.False(t, s.MFAEnabled(UserEmail))
}

func TestRegisterValidationDetailList(t *testing.T) {
	s := Start(t)
	var body struct {
		Detail []fieldError `json:"detail"`
	}
	status := call(t, s, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "x@y.z", "password": "short",
	}, &body)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Len(t, body.Detail, 1)
	require.Equal(t, "body", body.Detail[0].Loc[0])
}
