package authcore

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/gateway"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Client. A Builder is single use.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	persister  credential.Persister
	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink
	onInvalid  SessionInvalidFunc

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBaseURL overrides Config.Backend.BaseURL.
func (b *Builder) WithBaseURL(u string) *Builder {
	b.config.Backend.BaseURL = u
	return b
}

// WithRedis persists the credential pair in Redis through client. The client is
// not closed by Client.Close.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	b.config.Store.Backend = StoreRedis
	return b
}

// WithPersister installs a custom persister. It wins over any Redis setting.
func (b *Builder) WithPersister(p credential.Persister) *Builder {
	b.persister = p
	return b
}

func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithSessionInvalidHook registers fn, called after an established session is
// cleared by a 401/403.
func (b *Builder) WithSessionInvalidHook(fn SessionInvalidFunc) *Builder {
	b.onInvalid = fn
	return b
}

// Build validates the configuration and wires the client. No network I/O happens
// here; call Client.Restore to load a persisted pair.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.New(cfg.Log.Level, cfg.Log.Format)
	}

	c := &Client{
		config:    cfg,
		logger:    logger,
		metrics:   NewMetrics(cfg.Metrics),
		onInvalid: b.onInvalid,
	}

	// -------- CREDENTIAL STORE --------
	persister := b.persister
	if persister == nil && cfg.Store.Backend == StoreRedis {
		rdb := b.redis
		if rdb == nil {
			if cfg.Store.RedisAddr == "" {
				return nil, errors.New("redis store requires a client or Store.RedisAddr")
			}
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Store.RedisAddr,
				Password: cfg.Store.RedisPassword,
				DB:       cfg.Store.RedisDB,
			})
			c.ownsRedis = true
		}
		c.redis = rdb
		persister = credential.NewRedisPersister(rdb, cfg.Store.Prefix, cfg.Store.Name, cfg.Store.TTL)
	}
	c.store = credential.NewStore(persister)

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = internalaudit.NewSlogSink(logger)
	}
	c.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)
	c.obs = &observer{metrics: c.metrics, audit: c.audit, logger: logger}

	// -------- GATEWAY --------
	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithSessionInvalidHook(c.sessionInvalid),
		gateway.WithObserver(c.observeRequest),
	}
	if b.httpClient != nil {
		opts = append(opts, gateway.WithHTTPClient(b.httpClient))
	}
	gw, err := gateway.New(gateway.Config{
		BaseURL:           cfg.Backend.BaseURL,
		Timeout:           cfg.Backend.Timeout,
		UserAgent:         cfg.Backend.UserAgent,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		Burst:             cfg.Backend.Burst,
	}, c.store, opts...)
	if err != nil {
		c.audit.Close()
		if c.ownsRedis {
			_ = c.redis.Close()
		}
		return nil, err
	}
	c.gateway = gw

	c.flow = newAuthFlow(c.store, gw, c.obs)
	c.roles = newRoleService(gw, c.obs)

	b.built = true

	return c, nil
}
