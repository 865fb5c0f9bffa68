package security

import (
	"testing"
	"time"
)

func baseInput() ReportInput {
	limit := LimitReport{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute}
	return ReportInput{
		Hasher:            "hmac",
		Pepper:            "0123456789abcdef0123456789abcdef",
		CodeDigits:        6,
		CodeTTL:           10 * time.Minute,
		MaxAttempts:       5,
		MinVerifyDuration: 20 * time.Millisecond,
		IdentityLimit:     limit,
		SourceLimit:       limit,
		IssueLimit:        limit,
		StorageBackend:    "memory",
		LockBackend:       "local",
		RateLimitBackend:  "memory",
		CodeStore:         "memory",
	}
}

func TestBuildReportSingleInstanceIsClean(t *testing.T) {
	r := BuildReport(baseInput())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if r.SharedState {
		t.Fatal("memory backends are not shared")
	}
	if r.ResumeSigning != "" {
		t.Fatalf("resume disabled, got signing %q", r.ResumeSigning)
	}
}

func TestBuildReportSharedState(t *testing.T) {
	in := baseInput()
	in.StorageBackend = "postgres"
	in.RateLimitBackend = "redis"
	in.CodeStore = "redis"
	in.LockBackend = "redis"
	in.ResumeEnabled = true
	in.ResumeSigning = "ed25519"

	r := BuildReport(in)
	if !r.SharedState {
		t.Fatal("expected shared state")
	}
	if r.ResumeSigning != "ed25519" {
		t.Fatalf("unexpected signing %q", r.ResumeSigning)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestBuildReportWarnings(t *testing.T) {
	in := baseInput()
	in.Pepper = ""
	in.MinVerifyDuration = 0
	in.IdentityLimit.Lockout = 0
	in.StorageBackend = "redis"

	r := BuildReport(in)
	if len(r.Warnings) != 5 {
		t.Fatalf("expected 5 warnings, got %d: %v", len(r.Warnings), r.Warnings)
	}
}
