// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"regexp"
)

var serviceNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Validate rejects configurations that would misbehave at runtime rather than
// letting the pipeline discover them mid-pass.
func (r Runtime) Validate() error {
	if r.ProjectRoot == "" {
		return fmt.Errorf("project root is empty")
	}
	if r.ConcurrencyMax < 1 {
		return fmt.Errorf("concurrency_max must be >= 1, got %d", r.ConcurrencyMax)
	}
	if r.ScheduleEvery <= 0 {
		return fmt.Errorf("schedule_every must be positive, got %s", r.ScheduleEvery)
	}
	if r.RunRetentionDays < 1 {
		return fmt.Errorf("run_retention_days must be >= 1, got %d", r.RunRetentionDays)
	}
	for _, sec := range []struct {
		name  string
		value int
	}{
		{"extractor_timeout_sec", r.Timeouts.ExtractorSec},
		{"cleaner_timeout_sec", r.Timeouts.CleanerSec},
		{"session_acquire_timeout_sec", r.Timeouts.SessionAcquireSec},
		{"second_factor_timeout_sec", r.Timeouts.SecondFactorSec},
	} {
		if sec.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", sec.name, sec.value)
		}
	}
	if r.Retry.MaxTries < 1 {
		return fmt.Errorf("retry.max_tries must be >= 1, got %d", r.Retry.MaxTries)
	}
	if r.Retry.Jitter < 0 || r.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0,1], got %g", r.Retry.Jitter)
	}

	for name, p := range r.Services {
		if !serviceNameRe.MatchString(name) {
			return fmt.Errorf("service %q: identifier must be a lowercase filesystem-safe token", name)
		}
		if err := p.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (p ServicePolicy) validate(service string) error {
	switch p.Strategy {
	case StrategyOAuth, StrategyTokenJWT, StrategyInteractive:
	case "":
		return fmt.Errorf("service %q: strategy is required", service)
	default:
		return fmt.Errorf("service %q: unknown strategy %q", service, p.Strategy)
	}
	if p.MaxCredentialAgeDays <= 0 {
		return fmt.Errorf("service %q: max_credential_age_days must be positive", service)
	}
	if p.RefreshThresholdDays > p.MaxCredentialAgeDays {
		return fmt.Errorf("service %q: refresh_threshold_days %d exceeds max_credential_age_days %d",
			service, p.RefreshThresholdDays, p.MaxCredentialAgeDays)
	}
	switch p.StagingOutput {
	case OutputReplace, OutputAppend, "":
	default:
		return fmt.Errorf("service %q: staging_output must be replace or append, got %q", service, p.StagingOutput)
	}
	if p.Strategy == StrategyOAuth && p.OAuth.TokenURL == "" {
		return fmt.Errorf("service %q: oauth strategy requires oauth.token_url", service)
	}
	for _, acct := range p.Accounts {
		if !serviceNameRe.MatchString(acct) {
			return fmt.Errorf("service %q: account %q is not a filesystem-safe token", service, acct)
		}
	}
	return nil
}
