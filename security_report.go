package goOnboard

import "github.com/MrEthical07/goOnboard/internal/security"

// SecurityReport summarizes the security posture of a configuration.
type SecurityReport = security.Report

// SecurityLimit summarizes one rate policy in a SecurityReport.
type SecurityLimit = security.LimitReport

// SecurityReport returns the posture of the coordinator's configuration.
func (c *Coordinator) SecurityReport() SecurityReport {
	if c == nil {
		return SecurityReport{}
	}
	return c.cfg.SecurityReport()
}

// SecurityReport returns the posture of cfg without building a coordinator.
func (c Config) SecurityReport() SecurityReport {
	v := c.Verification
	return security.BuildReport(security.ReportInput{
		Hasher:            v.Hasher,
		Pepper:            v.Pepper,
		CodeDigits:        v.CodeDigits,
		CodeTTL:           v.CodeTTL,
		MaxAttempts:       v.MaxAttempts,
		MinVerifyDuration: v.MinVerifyDuration,
		IdentityLimit:     limitReport(v.IdentityLimit),
		SourceLimit:       limitReport(v.SourceLimit),
		IssueLimit:        limitReport(v.IssueLimit),
		StorageBackend:    c.Storage.Backend,
		LockBackend:       c.Lock.Backend,
		RateLimitBackend:  c.RateLimit.Backend,
		CodeStore:         v.Store,
		ResumeEnabled:     c.Resume.Enabled,
		ResumeSigning:     c.Resume.SigningMethod,
		AuditEnabled:      c.Audit.Enabled,
	})
}

func limitReport(p RatePolicyConfig) SecurityLimit {
	return SecurityLimit{MaxAttempts: p.MaxAttempts, Window: p.Window, Lockout: p.Lockout}
}
