package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// HeaderRequestID carries the per-call correlation id.
	HeaderRequestID = "X-Request-ID"

	maxResponseBytes = 1 << 20
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "authcore"
)

// Requester is the narrow view of the gateway handed to components that must not
// touch the credential store (MFA enrollment, RBAC).
type Requester interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// Config controls gateway transport behaviour.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string

	// RequestsPerSecond enables a client-side outbound throttle when > 0.
	RequestsPerSecond float64
	Burst             int
}

// SessionInvalidFunc is invoked after the store has been cleared because of a 401 or
// 403 response. The UI layer uses it to route to its re-authentication entry point.
type SessionInvalidFunc func(ctx context.Context, err *StatusError)

// ObserveFunc receives the outcome of every call that got a response. status is 0
// for transport failures.
type ObserveFunc func(method, path string, status int, d time.Duration)

// Option customises a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.http = c
		}
	}
}

// WithLogger sets the logger used for request lines.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSessionInvalidHook registers fn; it replaces any earlier hook.
func WithSessionInvalidHook(fn SessionInvalidFunc) Option {
	return func(g *Gateway) {
		g.onInvalid = fn
	}
}

// WithObserver registers fn for per-call latency accounting.
func WithObserver(fn ObserveFunc) Option {
	return func(g *Gateway) {
		g.observe = fn
	}
}

// Gateway attaches credentials to outbound calls and enforces the session-invalid
// policy. It is safe for concurrent use.
type Gateway struct {
	base      *url.URL
	userAgent string
	http      *http.Client
	store     credential.Writer
	limiter   *rate.Limiter
	logger    *slog.Logger
	onInvalid SessionInvalidFunc
	observe   ObserveFunc
}

// New creates a Gateway talking to cfg.BaseURL.
func New(cfg Config, store credential.Writer, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway requires a credential store")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("base url must be http or https")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	g := &Gateway{
		base:      base,
		userAgent: userAgent,
		store:     store,
		logger:    logging.Discard(),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Do sends one request. in is JSON encoded when non-nil; out receives the decoded
// 2xx body when non-nil. path is relative to the base URL and may carry a query.
func (g *Gateway) Do(ctx context.Context, method, path string, in, out any) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := g.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	requestID := req.Header.Get(HeaderRequestID)
	l := logging.FromContext(ctx, g.logger).With(
		"method", method,
		"path", req.URL.Path,
		"request_id", requestID,
	)

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		g.record(method, req.URL.Path, 0, time.Since(start))
		l.Warn("request failed", "duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		return err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	g.record(method, req.URL.Path, resp.StatusCode, elapsed)
	dur := elapsed.Milliseconds()
	if readErr != nil {
		l.Warn("response read failed", "status", resp.StatusCode, "error", readErr.Error())
		body = nil
	}

	// The status alone decides session invalidation; a body that fails to read
	// only loses the detail.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{
			Method: method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Detail: parseDetail(resp.StatusCode, body),
		}
		if se.SessionInvalid() {
			l.Warn("session invalidated", "status", se.Status, "duration_ms", dur)
			g.invalidate(ctx, l, se)
			return se
		}
		l.Warn("request completed", "status", se.Status, "duration_ms", dur)
		return se
	}

	if readErr != nil {
		return fmt.Errorf("read response: %w", readErr)
	}
	l.Info("request completed", "status", resp.StatusCode, "duration_ms", dur, "bytes", len(body))
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) Post(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPost, path, in, out)
}

func (g *Gateway) Put(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPut, path, in, out)
}

func (g *Gateway) Patch(ctx context.Context, path string, in, out any) error {
	return g.Do(ctx, http.MethodPatch, path, in, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodDelete, path, nil, out)
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path: %w", err)
	}
	target := *g.base
	target.Path = g.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	target.RawQuery = ref.RawQuery

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if token, ok := g.store.AccessToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (g *Gateway) record(method, path string, status int, d time.Duration) {
	if g.observe != nil {
		g.observe(method, path, status, d)
	}
}

func (g *Gateway) invalidate(ctx context.Context, l *slog.Logger, se *StatusError) {
	if err := g.store.Clear(ctx); err != nil {
		l.Error("credential clear failed", "error", err.Error())
	}
	if g.onInvalid != nil {
		g.onInvalid(ctx, se)
	}
}
