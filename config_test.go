package goOnboard

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.redisNeeded() {
		t.Fatal("default config must not need redis")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"session ttl":         func(c *Config) { c.Session.TTL = 0 },
		"storage backend":     func(c *Config) { c.Storage.Backend = "mongo" },
		"sqlite without dsn":  func(c *Config) { c.Storage.Backend = "sqlite" },
		"grace above ttl":     func(c *Config) { c.Idempotency.GracePeriod = 2 * c.Idempotency.SuppressionTTL },
		"lock backend":        func(c *Config) { c.Lock.Backend = "etcd" },
		"redis lease":         func(c *Config) { c.Lock.Backend = "redis"; c.Lock.RedisLease = 0 },
		"purpose separator":   func(c *Config) { c.Verification.Purpose = "a:b" },
		"code digits":         func(c *Config) { c.Verification.CodeDigits = 4 },
		"short pepper":        func(c *Config) { c.Verification.Pepper = "short" },
		"hasher":              func(c *Config) { c.Verification.Hasher = "md5" },
		"identity limit":      func(c *Config) { c.Verification.IdentityLimit.MaxAttempts = 0 },
		"ratelimit backend":   func(c *Config) { c.RateLimit.Backend = "file" },
		"audit buffer":        func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
		"resume short secret": func(c *Config) { c.Resume.Enabled = true; c.Resume.Secret = "x" },
		"resume method":       func(c *Config) { c.Resume.Enabled = true; c.Resume.SigningMethod = "rs256" },
		"log level":           func(c *Config) { c.Logging.Level = "loud" },
		"log format":          func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.TTL = 0
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to fail")
	}

	cfg = DefaultConfig()
	cfg.Storage.Backend = "redis"
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to require a redis client or address")
	}

	b := New()
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "onboard.yaml")
	yamlDoc := `
session:
  ttl: 45m
idempotency:
  grace_period: 2s
verification:
  code_digits: 8
  identity_limit:
    max_attempts: 3
logging:
  format: console
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("ONBOARD_LOCK_ACQUIRE_TIMEOUT=750ms\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("ONBOARD_LOCK_ACQUIRE_TIMEOUT", "")
	os.Unsetenv("ONBOARD_LOCK_ACQUIRE_TIMEOUT")
	t.Setenv("ONBOARD_SESSION_TTL", "1h")
	t.Setenv("ONBOARD_VERIFICATION_IDENTITY_LIMIT_LOCKOUT", "7m")

	cfg, err := LoadConfig(path, envPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.TTL != time.Hour {
		t.Fatalf("env must override yaml, got ttl %v", cfg.Session.TTL)
	}
	if cfg.Idempotency.GracePeriod != 2*time.Second {
		t.Fatalf("unexpected grace period %v", cfg.Idempotency.GracePeriod)
	}
	if cfg.Verification.CodeDigits != 8 || cfg.Verification.IdentityLimit.MaxAttempts != 3 {
		t.Fatalf("yaml values not applied: %+v", cfg.Verification)
	}
	if cfg.Verification.IdentityLimit.Lockout != 7*time.Minute {
		t.Fatalf("nested env override not applied: %v", cfg.Verification.IdentityLimit.Lockout)
	}
	if cfg.Verification.IdentityLimit.Window != 15*time.Minute {
		t.Fatalf("defaults must survive partial yaml, got %v", cfg.Verification.IdentityLimit.Window)
	}
	if cfg.Lock.AcquireTimeout != 750*time.Millisecond {
		t.Fatalf("env file not applied: %v", cfg.Lock.AcquireTimeout)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("session:\n  tll: 1m\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestLoadConfigValidates(t *testing.T) {
	t.Setenv("ONBOARD_STORAGE_BACKEND", "cassandra")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected invalid env override to fail validation")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", zerolog.WarnLevel)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Msg("hidden")
	logger.Warn().Str("entity_id", "42").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"component":"onboard"`) || !strings.Contains(out, `"entity_id":"42"`) {
		t.Fatalf("unexpected log line: %s", out)
	}

	if _, err := NewLogger(LoggingConfig{Level: "nope"}); err == nil {
		t.Fatal("expected bad level to fail")
	}
	if _, err := NewLogger(LoggingConfig{Output: "syslog"}); err == nil {
		t.Fatal("expected bad output to fail")
	}
}

func TestValidateEmail(t *testing.T) {
	good := map[string]string{
		"ada@example.com":     "ada@example.com",
		"  Ada@EXAMPLE.org  ": "Ada@example.org",
		"a.b+tag@mail.co.uk":  "a.b+tag@mail.co.uk",
	}
	for in, want := range good {
		got, err := ValidateEmail(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}

	bad := []string{
		"",
		"plain",
		"Ada <ada@example.com>",
		"ada@localhost",
		strings.Repeat("a", 250) + "@example.com",
	}
	for _, in := range bad {
		if _, err := ValidateEmail(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", in, err)
		}
	}
}

func TestSecurityReport(t *testing.T) {
	cfg := DefaultConfig()
	r := cfg.SecurityReport()
	if r.PepperConfigured || len(r.Warnings) != 1 {
		t.Fatalf("default config should only warn about the generated pepper: %+v", r)
	}
	if r.IdentityLimit.MaxAttempts != cfg.Verification.IdentityLimit.MaxAttempts {
		t.Fatalf("identity limit not reported: %+v", r.IdentityLimit)
	}

	cfg.Verification.Pepper = strings.Repeat("p", 32)
	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	if r := c.SecurityReport(); len(r.Warnings) != 0 || r.LockScope != "local" {
		t.Fatalf("unexpected report: %+v", r)
	}

	var nilCoord *Coordinator
	if r := nilCoord.SecurityReport(); r.CodeHasher != "" {
		t.Fatalf("nil coordinator must report zero value: %+v", r)
	}
}
