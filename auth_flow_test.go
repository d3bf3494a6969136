package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/authtest"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/gateway"
	"github.com/MrEthical07/authcore/internal/logging"
)

func TestLoginWithoutMFAPersistsPair(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()

	pair := login(t, c, authtest.UserEmail)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	stored, ok := c.Store().Pair()
	if !ok || stored.AccessToken != pair.AccessToken || stored.RefreshToken != pair.RefreshToken {
		t.Fatalf("expected stored pair to match login result, got %+v", stored)
	}
	if got := c.Flow().State(); got != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", got)
	}
	if _, ok := c.Flow().Challenge(); ok {
		t.Fatal("expected no pending challenge")
	}
	if got := srv.Calls(http.MethodPost, "/auth/mfa/verify"); got != 0 {
		t.Fatalf("expected no mfa verify call, got %d", got)
	}
	if got := c.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected login_success=1, got %d", got)
	}
}

func TestLoginWrongPasswordFailsAndLeavesStoreEmpty(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()

	res, err := c.Login(context.Background(), authtest.UserEmail, "wrong")
	if res != nil {
		t.Fatalf("expected no result, got %T", res)
	}
	if !errors.Is(err, ErrInvalidCredentials) || KindOf(err) != KindAuthentication {
		t.Fatalf("expected invalid credentials, got %v (kind %s)", err, KindOf(err))
	}
	if got := c.Flow().State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected empty store")
	}
	if !errors.Is(c.Flow().LastError(), ErrInvalidCredentials) {
		t.Fatalf("expected last error to be recorded, got %v", c.Flow().LastError())
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()

	_, err := c.Login(context.Background(), authtest.InactiveEmail, authtest.Password)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected empty store")
	}
}

func TestLoginValidationHappensLocally(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "empty email", email: "  ", password: "x", want: ErrEmailRequired},
		{name: "empty password", email: authtest.UserEmail, password: "", want: ErrPasswordRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Login(context.Background(), tt.email, tt.password)
			if !errors.Is(err, tt.want) || KindOf(err) != KindValidation {
				t.Fatalf("expected %v validation error, got %v", tt.want, err)
			}
		})
	}
	if got := srv.TotalCalls(); got != 0 {
		t.Fatalf("expected no network calls, got %d", got)
	}
	if got := c.Flow().State(); got != StateIdle {
		t.Fatalf("expected flow untouched, got %s", got)
	}
}

func TestMFALoginWrongCodeThenCorrectCode(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	res, err := c.Login(ctx, authtest.MFAEmail, authtest.Password)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	challenge, ok := res.(MFAChallenge)
	if !ok || challenge.TempToken == "" {
		t.Fatalf("expected MFA challenge, got %#v", res)
	}
	if got := c.Flow().State(); got != StateMFARequired {
		t.Fatalf("expected mfa_required, got %s", got)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected no credentials before verification")
	}

	_, err = c.VerifyMFA(ctx, srv.WrongCode(authtest.MFASecret))
	if !errors.Is(err, ErrMFACodeRejected) {
		t.Fatalf("expected ErrMFACodeRejected, got %v", err)
	}
	if got := c.Flow().State(); got != StateMFARequired {
		t.Fatalf("expected retry to stay in mfa_required, got %s", got)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected store to stay empty after a rejected code")
	}
	if _, ok := c.Flow().Challenge(); !ok {
		t.Fatal("expected challenge to be kept for retry")
	}

	pair, err := c.VerifyMFA(ctx, srv.Code(authtest.MFASecret))
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if got := c.Flow().State(); got != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", got)
	}
	stored, ok := c.Store().Pair()
	if !ok || stored.AccessToken != pair.AccessToken {
		t.Fatal("expected verified pair to be stored")
	}
	if _, ok := c.Flow().Challenge(); ok {
		t.Fatal("expected challenge to be dropped after success")
	}
	if got := srv.Calls(http.MethodPost, "/auth/mfa/verify"); got != 2 {
		t.Fatalf("expected 2 verify calls, got %d", got)
	}
}

func TestVerifyMFARejectsMalformedCodeLocally(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	if _, err := c.Login(ctx, authtest.MFAEmail, authtest.Password); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	for _, code := range []string{"", "12345", "1234567", "12a456", "١٢٣٤٥٦"} {
		_, err := c.VerifyMFA(ctx, code)
		if !errors.Is(err, ErrInvalidMFACode) || KindOf(err) != KindValidation {
			t.Fatalf("code %q: expected validation error, got %v", code, err)
		}
	}
	if got := srv.Calls(http.MethodPost, "/auth/mfa/verify"); got != 0 {
		t.Fatalf("expected no verify calls, got %d", got)
	}
	if got := c.Flow().State(); got != StateMFARequired {
		t.Fatalf("expected mfa_required, got %s", got)
	}
}

func TestVerifyMFAWithoutChallenge(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()

	_, err := c.VerifyMFA(context.Background(), "123456")
	if !errors.Is(err, ErrNoPendingChallenge) {
		t.Fatalf("expected ErrNoPendingChallenge, got %v", err)
	}
}

func TestVerifyMFAExpiredChallengeFailsLocally(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	if _, err := c.Login(ctx, authtest.MFAEmail, authtest.Password); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	c.flow.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err := c.VerifyMFA(ctx, srv.Code(authtest.MFASecret))
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if got := c.Flow().State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if _, ok := c.Flow().Challenge(); ok {
		t.Fatal("expected challenge to be dropped")
	}
	if got := srv.Calls(http.MethodPost, "/auth/mfa/verify"); got != 0 {
		t.Fatalf("expected no verify calls, got %d", got)
	}
}

func TestVerifyMFAInvalidTempTokenFailsFlow(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	if _, err := c.Login(ctx, authtest.MFAEmail, authtest.Password); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, err := c.Flow().VerifyMFAWithToken(ctx, "tampered", srv.Code(authtest.MFASecret))
	if !errors.Is(err, ErrChallengeExpired) || KindOf(err) != KindAuthentication {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if got := c.Flow().State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected empty store")
	}
}

func TestLogoutClearsStoreAndRevokesRefresh(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	pair := login(t, c, authtest.UserEmail)
	c.Logout(ctx)

	if c.Store().IsAuthenticated() {
		t.Fatal("expected empty store after logout")
	}
	if got := c.Flow().State(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if got := srv.Calls(http.MethodPost, "/auth/logout"); got != 1 {
		t.Fatalf("expected one logout call, got %d", got)
	}

	// The revoked refresh token is refused by the collaborator.
	if err := c.store.Set(ctx, pair.pair()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	err := c.Flow().Refresh(ctx)
	if !IsKind(err, KindAuthorization) {
		t.Fatalf("expected authorization error for revoked refresh, got %v", err)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected store to be cleared by the 401")
	}
}

func TestLogoutWhenIdleMakesNoCall(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()

	c.Logout(context.Background())
	if got := srv.TotalCalls(); got != 0 {
		t.Fatalf("expected no calls, got %d", got)
	}
}

func TestRefreshReplacesAccessToken(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	pair := login(t, c, authtest.UserEmail)
	if err := c.Flow().Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	stored, ok := c.Store().Pair()
	if !ok {
		t.Fatal("expected stored pair")
	}
	if stored.AccessToken == pair.AccessToken {
		t.Fatal("expected a new access token")
	}
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("expected refresh token to be kept")
	}
}

func TestRefreshWithoutPairIsValidation(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()

	err := c.Flow().Refresh(context.Background())
	if !errors.Is(err, ErrMissingRefreshToken) {
		t.Fatalf("expected ErrMissingRefreshToken, got %v", err)
	}
	if srv.TotalCalls() != 0 {
		t.Fatal("expected no calls")
	}
}

func TestMeAndCan(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	if c.Can("dashboard.read") {
		t.Fatal("expected Can to be false before Me")
	}
	login(t, c, authtest.UserEmail)
	u, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if u.RoleName != "user" || u.IsSuperuser {
		t.Fatalf("unexpected user %+v", u)
	}
	if !c.Can("dashboard.read") {
		t.Fatal("expected dashboard.read")
	}
	if c.Can("roles.create") {
		t.Fatal("expected roles.create to be denied")
	}
	if c.Can("") {
		t.Fatal("expected empty permission to be denied")
	}

	c.Logout(ctx)
	if c.CurrentUser() != nil {
		t.Fatal("expected cached user to be dropped on logout")
	}
}

func TestSuperuserCanEverything(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()

	login(t, c, authtest.SuperuserEmail)
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	for _, perm := range []string{"roles.create", "payments.refund", "not.a.real.permission", ""} {
		if !c.Can(perm) {
			t.Fatalf("expected superuser to hold %q", perm)
		}
	}
}

func TestRegisterVerifyEmailAndLogin(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	_, err := c.Flow().Register(ctx, RegisterRequest{Email: "b@x.com", Password: "short"})
	if !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	name := "bee"
	u, err := c.Flow().Register(ctx, RegisterRequest{Email: "b@x.com", Username: &name, Password: "long-enough"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.Email != "b@x.com" || u.ID == "" {
		t.Fatalf("unexpected user %+v", u)
	}

	_, err = c.Login(ctx, "b@x.com", "long-enough")
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected unverified login to be refused, got %v", err)
	}

	if _, err := c.Flow().ResendVerification(ctx, "b@x.com"); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}
	if _, err := c.Flow().VerifyEmail(ctx, "bogus"); !IsKind(err, KindAuthentication) {
		t.Fatalf("expected bogus token to be rejected, got %v", err)
	}
	if _, err := c.Flow().VerifyEmail(ctx, srv.VerificationToken("b@x.com")); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if _, err := c.Login(ctx, "b@x.com", "long-enough"); err != nil {
		t.Fatalf("Login after verification failed: %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	c, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	if _, err := c.Flow().RequestPasswordReset(ctx, authtest.UserEmail); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := srv.ResetToken(authtest.UserEmail)
	if token == "" {
		t.Fatal("expected a reset token")
	}
	if _, err := c.Flow().ResetPassword(ctx, token, "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := c.Flow().ResetPassword(ctx, token, "brand-new-pass"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := c.Flow().ResetPassword(ctx, token, "brand-new-pass"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected used token to be rejected, got %v", err)
	}
	if _, err := c.Login(ctx, authtest.UserEmail, "brand-new-pass"); err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
}

// blockingRequester answers /auth/login only after release is closed.
type blockingRequester struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	resp    string
}

func (b *blockingRequester) Do(ctx context.Context, method, path string, in, out any) error {
	if path != "/auth/login" {
		return nil
	}
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if out != nil {
		return json.Unmarshal([]byte(b.resp), out)
	}
	return nil
}

func TestLogoutDiscardsInFlightLogin(t *testing.T) {
	store := credential.NewStore(nil)
	req := &blockingRequester{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		resp:    `{"access_token":"a","refresh_token":"r","token_type":"bearer"}`,
	}
	flow := NewAuthFlow(store, req)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := flow.Login(ctx, "a@x.com", "pw")
		errCh <- err
	}()
	<-req.entered

	if _, err := flow.Login(ctx, "a@x.com", "pw"); !errors.Is(err, ErrFlowBusy) || KindOf(err) != KindPolicy {
		t.Fatalf("expected ErrFlowBusy, got %v", err)
	}

	flow.Logout(ctx)
	close(req.release)

	err := <-errCh
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if store.IsAuthenticated() {
		t.Fatal("expected late login result to be discarded")
	}
	if got := flow.State(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}

	// The flow is usable again.
	req.release = make(chan struct{})
	close(req.release)
	if _, err := flow.Login(ctx, "a@x.com", "pw"); err != nil {
		t.Fatalf("Login after logout failed: %v", err)
	}
	if !store.IsAuthenticated() {
		t.Fatal("expected pair to be stored")
	}
}

func TestMalformedLoginResponseFails(t *testing.T) {
	store := credential.NewStore(nil)
	req := &blockingRequester{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		resp:    `{"mfa_required":true}`,
	}
	close(req.release)
	flow := NewAuthFlow(store, req)

	_, err := flow.Login(context.Background(), "a@x.com", "pw")
	if !errors.Is(err, ErrMalformedResponse) || KindOf(err) != KindTransport {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if got := flow.State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestTransportErrorDuringLoginIsTransportKind(t *testing.T) {
	store := credential.NewStore(nil)
	gw, err := gateway.New(gateway.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, store)
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	flow := NewAuthFlow(store, gw)

	_, err = flow.Login(context.Background(), "a@x.com", "pw")
	if KindOf(err) != KindTransport {
		t.Fatalf("expected transport error, got %v (kind %s)", err, KindOf(err))
	}
	if got := flow.State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestResumeChallengeInAnotherClient(t *testing.T) {
	first, srv, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	res, err := first.Login(ctx, authtest.MFAEmail, authtest.Password)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	challenge := res.(MFAChallenge)

	second, err := New().WithBaseURL(srv.BaseURL()).WithLogger(logging.Discard()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer second.Close()

	if err := second.Flow().ResumeChallenge(""); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for empty token, got %v", err)
	}
	if err := second.Flow().ResumeChallenge(challenge.TempToken); err != nil {
		t.Fatalf("ResumeChallenge failed: %v", err)
	}
	if got := second.Flow().State(); got != StateMFARequired {
		t.Fatalf("expected mfa_required, got %s", got)
	}
	if _, err := second.VerifyMFA(ctx, srv.Code(authtest.MFASecret)); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if err := second.Flow().ResumeChallenge(challenge.TempToken); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition once authenticated, got %v", err)
	}
}

func TestLoginFromAuthenticatedDropsPreviousPair(t *testing.T) {
	c, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	login(t, c, authtest.UserEmail)

	res, err := c.Login(ctx, authtest.MFAEmail, authtest.Password)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, ok := res.(MFAChallenge); !ok {
		t.Fatalf("expected MFA challenge, got %#v", res)
	}
	if got := c.Flow().State(); got != StateMFARequired {
		t.Fatalf("expected mfa_required, got %s", got)
	}
	if c.Store().IsAuthenticated() {
		t.Fatal("expected previous pair to be cleared while the challenge is pending")
	}
	if _, err := c.Me(ctx); !errors.Is(err, ErrMissingAccessToken) {
		t.Fatalf("expected previous session to be unusable, got %v", err)
	}
}

// storeCheckingRequester records whether the store still held a pair when the
// login request went out.
type storeCheckingRequester struct {
	store *credential.Store
	held  bool
}

func (r *storeCheckingRequester) Do(_ context.Context, _, path string, _, out any) error {
	if path == "/auth/login" {
		_, r.held = r.store.Pair()
		return json.Unmarshal([]byte(`{"mfa_required":true,"temp_token":"t"}`), out)
	}
	return nil
}

func TestLoginSendsNoBearerFromPreviousSession(t *testing.T) {
	store := credential.NewStore(nil)
	ctx := context.Background()
	if err := store.Set(ctx, credential.Pair{AccessToken: "old-a", RefreshToken: "old-r"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	req := &storeCheckingRequester{store: store}
	flow := NewAuthFlow(store, req)

	if _, err := flow.Login(ctx, "a@x.com", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if req.held {
		t.Fatal("expected store to be empty when the login request was sent")
	}
	if store.IsAuthenticated() {
		t.Fatal("expected store to stay empty during the challenge")
	}
}

// refreshRecorder captures the refresh request the flow sends.
type refreshRecorder struct {
	path string
	body any
}

func (r *refreshRecorder) Do(_ context.Context, _, path string, in, out any) error {
	r.path, r.body = path, in
	return json.Unmarshal([]byte(`{"access_token":"new-a","token_type":"bearer"}`), out)
}

func TestRefreshSendsTokenAsQueryParameter(t *testing.T) {
	store := credential.NewStore(nil)
	ctx := context.Background()
	if err := store.Set(ctx, credential.Pair{AccessToken: "a", RefreshToken: "r+/="}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	req := &refreshRecorder{}
	flow := NewAuthFlow(store, req)
	flow.restored()

	if err := flow.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if req.path != "/auth/refresh?refresh_token=r%2B%2F%3D" {
		t.Fatalf("unexpected refresh path %q", req.path)
	}
	if req.body != nil {
		t.Fatalf("expected no request body, got %#v", req.body)
	}
	pair, _ := store.Pair()
	if pair.AccessToken != "new-a" || pair.RefreshToken != "r+/=" {
		t.Fatalf("unexpected stored pair %+v", pair)
	}
}
