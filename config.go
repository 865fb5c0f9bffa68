package goOnboard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of a Coordinator. Start from DefaultConfig or
// LoadConfig and adjust fields before passing it to Builder.WithConfig.
type Config struct {
	Session      SessionConfig      `yaml:"session"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Lock         LockConfig         `yaml:"lock"`
	Verification VerificationConfig `yaml:"verification"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" split_words:"true"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Resume       ResumeConfig       `yaml:"resume"`
	Logging      LoggingConfig      `yaml:"logging"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and the read cache used by
// Coordinator.Session.
type SessionConfig struct {
	// TTL is the sliding lifetime; every persisted transition extends ExpiresAt to now+TTL.
	TTL             time.Duration `yaml:"ttl"`
	CacheTTL        time.Duration `yaml:"cache_ttl" split_words:"true"`
	CacheMaxEntries int           `yaml:"cache_max_entries" split_words:"true"`
}

// StorageConfig selects the session repository built when none is injected.
type StorageConfig struct {
	// Backend is "memory" (default), "redis", "sqlite" or "postgres".
	Backend     string `yaml:"backend"`
	DSN         string `yaml:"dsn"`
	RedisPrefix string `yaml:"redis_prefix" split_words:"true"`
}

// RedisConfig is used when a Redis-backed component is selected and no client
// was injected with Builder.WithRedis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

/*
====================================
IDEMPOTENCY CONFIG
====================================
*/

// IdempotencyConfig controls duplicate suppression.
type IdempotencyConfig struct {
	SuppressionTTL time.Duration `yaml:"suppression_ttl" split_words:"true"`
	// GracePeriod: a duplicate older than this is re-evaluated instead of
	// suppressed. Zero suppresses for the whole SuppressionTTL.
	GracePeriod time.Duration `yaml:"grace_period" split_words:"true"`
	MaxEntries  int           `yaml:"max_entries" split_words:"true"`
}

// LockConfig controls the per-identity lock.
type LockConfig struct {
	// Backend is "local" (default, process-local) or "redis" (lease lock shared
	// by coordinators using the same Redis).
	Backend        string        `yaml:"backend"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" split_words:"true"`
	RedisPrefix    string        `yaml:"redis_prefix" split_words:"true"`
	RedisLease     time.Duration `yaml:"redis_lease" split_words:"true"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// RatePolicyConfig is one sliding-window budget with a fixed lockout.
type RatePolicyConfig struct {
	MaxAttempts int           `yaml:"max_attempts" split_words:"true"`
	Window      time.Duration `yaml:"window"`
	Lockout     time.Duration `yaml:"lockout"`
}

// VerificationConfig controls one-time codes.
type VerificationConfig struct {
	Purpose           string        `yaml:"purpose"`
	CodeDigits        int           `yaml:"code_digits" split_words:"true"`
	CodeTTL           time.Duration `yaml:"code_ttl" split_words:"true"`
	MaxAttempts       int           `yaml:"max_attempts" split_words:"true"`
	MinVerifyDuration time.Duration `yaml:"min_verify_duration" split_words:"true"`
	// Store is "memory" (default) or "redis".
	Store string `yaml:"store"`
	// Hasher is "hmac" (default) or "argon2".
	Hasher string `yaml:"hasher"`
	// Pepper keys the HMAC hasher. Empty generates a random per-process pepper,
	// which only suits single-process deployments.
	Pepper        string           `yaml:"pepper"`
	IdentityLimit RatePolicyConfig `yaml:"identity_limit" split_words:"true"`
	SourceLimit   RatePolicyConfig `yaml:"source_limit" split_words:"true"`
	IssueLimit    RatePolicyConfig `yaml:"issue_limit" split_words:"true"`
}

// RateLimitConfig selects where limiter state lives.
type RateLimitConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend     string `yaml:"backend"`
	RedisPrefix string `yaml:"redis_prefix" split_words:"true"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls async audit dispatch.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size" split_words:"true"`
	DropIfFull bool `yaml:"drop_if_full" split_words:"true"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" split_words:"true"`
}

// ResumeConfig controls signed resume tokens.
type ResumeConfig struct {
	Enabled bool `yaml:"enabled"`
	// SigningMethod is "hs256" (default) or "ed25519".
	SigningMethod string `yaml:"signing_method" split_words:"true"`
	// Secret is the hs256 key.
	Secret     string        `yaml:"secret"`
	PrivateKey []byte        `yaml:"-" ignored:"true"`
	PublicKey  []byte        `yaml:"-" ignored:"true"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	Leeway     time.Duration `yaml:"leeway"`
}

// LoggingConfig is consumed by NewLogger.
type LoggingConfig struct {
	// Level is a zerolog level name.
	Level string `yaml:"level"`
	// Format is "json" (default) or "console".
	Format string `yaml:"format"`
	// Output is "stderr" (default) or "stdout".
	Output string `yaml:"output"`
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:             30 * time.Minute,
			CacheTTL:        5 * time.Second,
			CacheMaxEntries: 10000,
		},
		Storage: StorageConfig{
			Backend:     "memory",
			RedisPrefix: "osess:",
		},
		Idempotency: IdempotencyConfig{
			SuppressionTTL: time.Minute,
			GracePeriod:    5 * time.Second,
			MaxEntries:     10000,
		},
		Lock: LockConfig{
			Backend:        "local",
			AcquireTimeout: 2 * time.Second,
			RedisPrefix:    "olk:",
			RedisLease:     30 * time.Second,
		},
		Verification: VerificationConfig{
			Purpose:           "onboarding",
			CodeDigits:        6,
			CodeTTL:           10 * time.Minute,
			// Above IdentityLimit.MaxAttempts so the limiter lockout, not the
			// record budget, stops a burst; the lockout ends before CodeTTL.
			MaxAttempts:       10,
			MinVerifyDuration: 20 * time.Millisecond,
			Store:             "memory",
			Hasher:            "hmac",
			IdentityLimit:     RatePolicyConfig{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 5 * time.Minute},
			SourceLimit:       RatePolicyConfig{MaxAttempts: 20, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
			IssueLimit:        RatePolicyConfig{MaxAttempts: 5, Window: time.Hour, Lockout: time.Hour},
		},
		RateLimit: RateLimitConfig{
			Backend:     "memory",
			RedisPrefix: "orl:",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Resume: ResumeConfig{
			Enabled:       false,
			SigningMethod: "hs256",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Resume.PrivateKey = cloneBytes(cfg.Resume.PrivateKey)
	out.Resume.PublicKey = cloneBytes(cfg.Resume.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.CacheTTL < 0 {
		return errors.New("Session CacheTTL must be >= 0")
	}
	if c.Session.CacheMaxEntries <= 0 {
		return errors.New("Session CacheMaxEntries must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory", "redis":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("Storage DSN is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unsupported Storage Backend %q", c.Storage.Backend)
	}

	// Idempotency
	if c.Idempotency.SuppressionTTL <= 0 {
		return errors.New("Idempotency SuppressionTTL must be > 0")
	}
	if c.Idempotency.GracePeriod < 0 {
		return errors.New("Idempotency GracePeriod must be >= 0")
	}
	if c.Idempotency.GracePeriod > c.Idempotency.SuppressionTTL {
		return errors.New("Idempotency GracePeriod must not exceed SuppressionTTL")
	}
	if c.Idempotency.MaxEntries <= 0 {
		return errors.New("Idempotency MaxEntries must be > 0")
	}

	// Lock
	if c.Lock.AcquireTimeout <= 0 {
		return errors.New("Lock AcquireTimeout must be > 0")
	}
	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisLease <= 0 {
			return errors.New("Lock RedisLease must be > 0")
		}
	default:
		return fmt.Errorf("unsupported Lock Backend %q", c.Lock.Backend)
	}

	// Verification
	v := c.Verification
	if v.Purpose == "" || strings.Contains(v.Purpose, ":") {
		return errors.New("Verification Purpose must be non-empty and must not contain ':'")
	}
	if v.CodeDigits < 6 || v.CodeDigits > 10 {
		return errors.New("Verification CodeDigits must be between 6 and 10")
	}
	if v.CodeTTL <= 0 {
		return errors.New("Verification CodeTTL must be > 0")
	}
	if v.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}
	if v.MinVerifyDuration < 0 {
		return errors.New("Verification MinVerifyDuration must be >= 0")
	}
	if v.Store != "memory" && v.Store != "redis" {
		return fmt.Errorf("unsupported Verification Store %q", v.Store)
	}
	switch v.Hasher {
	case "hmac":
		if v.Pepper != "" && len(v.Pepper) < 32 {
			return errors.New("Verification Pepper must be at least 32 bytes")
		}
	case "argon2":
	default:
		return fmt.Errorf("unsupported Verification Hasher %q", v.Hasher)
	}
	for name, p := range map[string]RatePolicyConfig{
		"IdentityLimit": v.IdentityLimit,
		"SourceLimit":   v.SourceLimit,
		"IssueLimit":    v.IssueLimit,
	} {
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("Verification %s MaxAttempts must be > 0", name)
		}
		if p.Window <= 0 {
			return fmt.Errorf("Verification %s Window must be > 0", name)
		}
		if p.Lockout < 0 {
			return fmt.Errorf("Verification %s Lockout must be >= 0", name)
		}
	}

	// Rate limit
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("unsupported RateLimit Backend %q", c.RateLimit.Backend)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Resume
	if c.Resume.Enabled {
		switch c.Resume.SigningMethod {
		case "hs256":
			if len(c.Resume.Secret) < 32 {
				return errors.New("Resume Secret must be at least 32 bytes for hs256")
			}
		case "ed25519":
			if len(c.Resume.PrivateKey) == 0 {
				return errors.New("Resume PrivateKey is required for ed25519")
			}
		default:
			return fmt.Errorf("unsupported Resume SigningMethod %q", c.Resume.SigningMethod)
		}
		if c.Resume.Leeway < 0 || c.Resume.Leeway > 2*time.Minute {
			return errors.New("Resume Leeway must be within [0,2m]")
		}
	}

	// Logging
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("unsupported Logging Format %q", c.Logging.Format)
	}
	if c.Logging.Output != "stderr" && c.Logging.Output != "stdout" {
		return fmt.Errorf("unsupported Logging Output %q", c.Logging.Output)
	}

	return nil
}

// redisNeeded reports whether any configured backend talks to Redis.
func (c *Config) redisNeeded() bool {
	return c.Storage.Backend == "redis" || c.Lock.Backend == "redis" ||
		c.RateLimit.Backend == "redis" || c.Verification.Store == "redis"
}
