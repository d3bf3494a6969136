package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore/authtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t     *testing.T
	srv   *authtest.Server
	redis string
	env   map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	return &harness{
		t:     t,
		srv:   authtest.Start(t),
		redis: mr.Addr(),
		env:   map[string]string{"AUTHCORE_LOG_LEVEL": "error"},
	}
}

func (h *harness) run(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	c := &cli{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		getenv: func(k string) (string, bool) {
			v, ok := h.env[k]
			return v, ok
		},
	}
	full := append([]string{"-base-url", h.srv.BaseURL(), "-redis", h.redis}, args...)
	code := c.run(context.Background(), full)
	return code, stdout.String(), stderr.String()
}

func TestLoginPersistsAcrossInvocations(t *testing.T) {
	h := newHarness(t)

	code, out, errOut := h.run("", "-password", authtest.Password, "login", authtest.UserEmail)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "logged in")

	code, out, errOut = h.run("", "me")
	require.Equal(t, 0, code, errOut)
	var me struct {
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &me))
	require.Equal(t, authtest.UserEmail, me.Email)

	code, out, _ = h.run("", "can", "profile.read")
	require.Equal(t, 0, code)
	require.Equal(t, "yes\n", out)

	code, out, _ = h.run("", "can", "roles.delete")
	require.Equal(t, 1, code)
	require.Equal(t, "no\n", out)

	code, _, _ = h.run("", "logout")
	require.Equal(t, 0, code)

	code, _, errOut = h.run("", "me")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "validation")
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run("wrong-pass\n", "login", authtest.UserEmail)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "authentication")

	code, _, errOut = h.run(authtest.Password+"\n", "login", authtest.UserEmail)
	require.Equal(t, 0, code, errOut)
}

func TestMFALoginAcrossInvocations(t *testing.T) {
	h := newHarness(t)

	code, out, errOut := h.run("", "-password", authtest.Password, "login", authtest.MFAEmail)
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	token := lines[1]

	code, _, errOut = h.run("", "verify", token, "12")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "validation")

	code, out, errOut = h.run("", "verify", token, h.srv.Code(authtest.MFASecret))
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "logged in")

	code, _, errOut = h.run("", "me")
	require.Equal(t, 0, code, errOut)
}

func TestMFASetupAndDisable(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run("", "-password", authtest.Password, "login", authtest.UserEmail)
	require.Equal(t, 0, code, errOut)

	// The secret is only known once setup has printed it, so feed a malformed
	// code first and let stdin end; the run fails and nothing is enabled.
	code, out, _ := h.run("abc\n", "mfa-setup")
	require.Equal(t, 1, code)
	require.Contains(t, out, "otpauth://totp/")
	require.False(t, h.srv.MFAEnabled(authtest.UserEmail))

	code, _, errOut = h.run("", "-password", "wrong", "mfa-disable")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "MFA is not enabled")
}

func TestRolesRequiresPermission(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run("", "-password", authtest.Password, "login", authtest.SuperuserEmail)
	require.Equal(t, 0, code, errOut)

	code, out, errOut := h.run("", "roles")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "super_admin")
	require.Contains(t, out, "support")

	code, out, errOut = h.run("", "assign-role", h.srv.UserID(authtest.UserEmail), "6")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "role 6")

	code, _, errOut = h.run("", "assign-role", "x", "zero")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "invalid role id")
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run("")
	require.Equal(t, 2, code)

	code, _, errOut := h.run("", "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "unknown command")

	code, _, errOut = h.run("", "login")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "wrong number of arguments")
}
