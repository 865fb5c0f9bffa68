package security

import "time"

// LimitReport summarizes one rate policy.
type LimitReport struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// Report is a point-in-time view of the security posture of a coordinator
// configuration.
type Report struct {
	CodeHasher        string
	PepperConfigured  bool
	CodeDigits        int
	CodeTTL           time.Duration
	MaxAttempts       int
	TimingFloor       time.Duration
	IdentityLimit     LimitReport
	SourceLimit       LimitReport
	IssueLimit        LimitReport
	SharedState       bool
	LockScope         string
	ResumeSigning     string
	AuditEnabled      bool
	Warnings          []string
}

// ReportInput is the subset of configuration BuildReport reads.
type ReportInput struct {
	Hasher            string
	Pepper            string
	CodeDigits        int
	CodeTTL           time.Duration
	MaxAttempts       int
	MinVerifyDuration time.Duration
	IdentityLimit     LimitReport
	SourceLimit       LimitReport
	IssueLimit        LimitReport
	StorageBackend    string
	LockBackend       string
	RateLimitBackend  string
	CodeStore         string
	ResumeEnabled     bool
	ResumeSigning     string
	AuditEnabled      bool
}

// BuildReport derives a Report and flags settings that weaken code
// verification or break multi-instance deployments.
func BuildReport(input ReportInput) Report {
	r := Report{
		CodeHasher:       input.Hasher,
		PepperConfigured: input.Pepper != "",
		CodeDigits:       input.CodeDigits,
		CodeTTL:          input.CodeTTL,
		MaxAttempts:      input.MaxAttempts,
		TimingFloor:      input.MinVerifyDuration,
		IdentityLimit:    input.IdentityLimit,
		SourceLimit:      input.SourceLimit,
		IssueLimit:       input.IssueLimit,
		LockScope:        input.LockBackend,
		AuditEnabled:     input.AuditEnabled,
	}
	if input.ResumeEnabled {
		r.ResumeSigning = input.ResumeSigning
	}

	shared := 0
	for _, b := range []string{input.StorageBackend, input.RateLimitBackend, input.CodeStore} {
		if b != "memory" {
			shared++
		}
	}
	r.SharedState = shared == 3 && input.LockBackend == "redis"

	if input.Hasher == "hmac" && !r.PepperConfigured {
		r.Warnings = append(r.Warnings, "hmac pepper is generated per process; codes do not survive restarts or cross instances")
	}
	if input.MinVerifyDuration == 0 {
		r.Warnings = append(r.Warnings, "verification has no timing floor")
	}
	if input.IdentityLimit.Lockout == 0 {
		r.Warnings = append(r.Warnings, "identity limit has no lockout")
	}
	if shared > 0 && !r.SharedState {
		r.Warnings = append(r.Warnings, "state is partly process-local; run a single instance or move every backend to shared storage")
	}
	if input.LockBackend != "redis" && input.StorageBackend != "memory" {
		r.Warnings = append(r.Warnings, "entity lock is process-local while sessions are shared")
	}
	return r
}
