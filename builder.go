package goOnboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goOnboard/hashing"
	"github.com/MrEthical07/goOnboard/internal"
	internalaudit "github.com/MrEthical07/goOnboard/internal/audit"
	"github.com/MrEthical07/goOnboard/internal/cache"
	"github.com/MrEthical07/goOnboard/internal/idempotency"
	internalmetrics "github.com/MrEthical07/goOnboard/internal/metrics"
	"github.com/MrEthical07/goOnboard/internal/rate"
	"github.com/MrEthical07/goOnboard/internal/verification"
	"github.com/MrEthical07/goOnboard/resume"
	"github.com/MrEthical07/goOnboard/session"
	"github.com/MrEthical07/goOnboard/session/sqlstore"
	"github.com/MrEthical07/goOnboard/step"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	verificationStoreEntries = 100000
	storageOpenTimeout       = 10 * time.Second
)

var defaultArgon2 = hashing.Argon2Config{
	Memory:      19 * 1024,
	Time:        2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Builder assembles a Coordinator. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	repo      session.Repository
	executor  ActionExecutor
	validator InputValidator
	hasher    hashing.Hasher
	table     step.Table
	logger    *zerolog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by every Redis backend selected in Config.
// Without it, Build dials Config.Redis.Addr when a Redis backend is selected.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRepository injects the session repository, overriding Config.Storage.
func (b *Builder) WithRepository(repo session.Repository) *Builder {
	b.repo = repo
	return b
}

// WithExecutor sets the business action executor. The default succeeds without
// side effects, which only suits tests.
func (b *Builder) WithExecutor(executor ActionExecutor) *Builder {
	b.executor = executor
	return b
}

// WithInputValidator replaces the default email address validator.
func (b *Builder) WithInputValidator(v InputValidator) *Builder {
	b.validator = v
	return b
}

// WithHasher replaces the code hasher selected by Config.Verification.Hasher.
func (b *Builder) WithHasher(h hashing.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithStepTable replaces the default transition table.
func (b *Builder) WithStepTable(t step.Table) *Builder {
	b.table = t
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithAuditSink sets the audit destination. When auditing is enabled without a
// sink, events go to the coordinator logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
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

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:      cfg,
		now:      b.now,
		executor: b.executor,
		validate: b.validator,
		logger:   zerolog.Nop(),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.executor == nil {
		c.executor = noopExecutor{}
	}
	if c.validate == nil {
		c.validate = ValidateEmail
	}
	if b.logger != nil {
		c.logger = *b.logger
	}

	ok := false
	defer func() {
		if !ok {
			c.closeResources()
		}
	}()

	client := b.redis
	if client == nil && cfg.redisNeeded() {
		if cfg.Redis.Addr == "" {
			return nil, errors.New("redis client or Redis Addr required for redis backends")
		}
		owned := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, owned.Close)
		client = owned
	}

	repo, err := b.buildRepository(cfg, client, c)
	if err != nil {
		return nil, err
	}
	c.repo = repo

	var limiter rate.Limiter = rate.NewMemory(c.now)
	if cfg.RateLimit.Backend == "redis" {
		limiter = rate.NewRedis(client, cfg.RateLimit.RedisPrefix, c.now)
	}

	var store verification.Store = verification.NewMemoryStore(verificationStoreEntries, c.now)
	if cfg.Verification.Store == "redis" {
		store = verification.NewRedisStore(client, "", c.now)
	}

	hasher, err := b.buildHasher(cfg)
	if err != nil {
		return nil, err
	}

	c.metrics = internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
	})

	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = internalaudit.NewLoggerSink(c.logger.With().Str("stream", "audit").Logger())
	}
	c.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	v := cfg.Verification
	c.verifier, err = verification.New(verification.Config{
		CodeDigits:        v.CodeDigits,
		CodeTTL:           v.CodeTTL,
		MaxAttempts:       v.MaxAttempts,
		MinVerifyDuration: v.MinVerifyDuration,
		IdentityPolicy:    ratePolicy(v.IdentityLimit),
		SourcePolicy:      ratePolicy(v.SourceLimit),
		IssuePolicy:       ratePolicy(v.IssueLimit),
	}, verification.Deps{
		Store:   store,
		Limiter: limiter,
		Hasher:  hasher,
		Now:     c.now,
		Report:  c.reportVerification,
	})
	if err != nil {
		return nil, err
	}

	var locker idempotency.Locker
	if cfg.Lock.Backend == "redis" {
		locker = idempotency.NewRedisLocker(client, idempotency.RedisLockerConfig{
			Prefix: cfg.Lock.RedisPrefix,
			Lease:  cfg.Lock.RedisLease,
		})
	}
	c.guard, err = idempotency.New[Result](idempotency.Config{
		SuppressionTTL: cfg.Idempotency.SuppressionTTL,
		GracePeriod:    cfg.Idempotency.GracePeriod,
		MaxEntries:     cfg.Idempotency.MaxEntries,
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		Now:            c.now,
	}, locker)
	if err != nil {
		return nil, err
	}

	c.states = cache.New[string, *session.State](cache.Config{
		MaxEntries:      cfg.Session.CacheMaxEntries,
		DefaultTTL:      cfg.Session.CacheTTL,
		CleanupInterval: cfg.Session.CacheTTL,
		Now:             c.now,
	})

	table := b.table
	if table == nil {
		table = step.DefaultTable()
	}
	c.machine, err = step.NewMachine(table)
	if err != nil {
		return nil, err
	}

	if cfg.Resume.Enabled {
		c.resume, err = buildResume(cfg, c.now)
		if err != nil {
			return nil, err
		}
	}

	c.handlers = c.handlerMap()
	for _, a := range step.Actions() {
		if _, found := c.handlers[a]; !found {
			return nil, fmt.Errorf("no handler registered for action %s", a)
		}
	}

	b.built = true
	ok = true
	return c, nil
}

func (b *Builder) buildRepository(cfg Config, client redis.UniversalClient, c *Coordinator) (session.Repository, error) {
	if b.repo != nil {
		return b.repo, nil
	}
	switch cfg.Storage.Backend {
	case "redis":
		return session.NewRedisRepository(client, cfg.Storage.RedisPrefix, c.now), nil
	case "sqlite", "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), storageOpenTimeout)
		defer cancel()
		repo, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Storage.Backend), cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
		}
		c.closers = append(c.closers, repo.Close)
		return repo, nil
	default:
		return session.NewMemoryRepository(), nil
	}
}

func (b *Builder) buildHasher(cfg Config) (hashing.Hasher, error) {
	if b.hasher != nil {
		return b.hasher, nil
	}
	if cfg.Verification.Hasher == "argon2" {
		return hashing.NewArgon2(defaultArgon2)
	}
	pepper := []byte(cfg.Verification.Pepper)
	if len(pepper) == 0 {
		var err error
		if pepper, err = internal.NewSecret(32); err != nil {
			return nil, err
		}
	}
	return hashing.NewHMAC(pepper)
}

func buildResume(cfg Config, now func() time.Time) (*resume.Manager, error) {
	rc := resume.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: resume.SigningMethod(cfg.Resume.SigningMethod),
		Issuer:        cfg.Resume.Issuer,
		Audience:      cfg.Resume.Audience,
		Leeway:        cfg.Resume.Leeway,
		Now:           now,
	}
	if rc.SigningMethod == resume.MethodHS256 {
		rc.PrivateKey = []byte(cfg.Resume.Secret)
	} else {
		rc.PrivateKey = cfg.Resume.PrivateKey
		rc.PublicKey = cfg.Resume.PublicKey
	}
	return resume.NewManager(rc)
}

func ratePolicy(p RatePolicyConfig) rate.Policy {
	return rate.Policy{MaxAttempts: p.MaxAttempts, Window: p.Window, Lockout: p.Lockout}
}
