package authcore

import (
	"context"
	"testing"

	"github.com/MrEthical07/authcore/authtest"
	"github.com/MrEthical07/authcore/internal/logging"
)

func newBenchmarkClient(b *testing.B) *Client {
	b.Helper()
	srv := authtest.Start(b)
	c, err := New().
		WithBaseURL(srv.BaseURL()).
		WithLogger(logging.Discard()).
		Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	b.Cleanup(func() { _ = c.Close() })
	return c
}

func BenchmarkCanCachedUser(b *testing.B) {
	c := newBenchmarkClient(b)
	if _, err := c.Login(context.Background(), authtest.UserEmail, authtest.Password); err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Can("users.read")
	}
}

func BenchmarkSessionInfo(b *testing.B) {
	c := newBenchmarkClient(b)
	if _, err := c.Login(context.Background(), authtest.UserEmail, authtest.Password); err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !c.SessionInfo().Authenticated {
			b.Fatal("expected an authenticated session")
		}
	}
}

func BenchmarkLoginLogoutRoundTrip(b *testing.B) {
	c := newBenchmarkClient(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Login(ctx, authtest.UserEmail, authtest.Password); err != nil {
			b.Fatalf("login failed: %v", err)
		}
		c.Logout(ctx)
	}
}
