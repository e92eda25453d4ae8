// SPDX-License-Identifier: MIT

// Package config assembles the immutable runtime context for every component.
// The environment is read exactly once, during bootstrap; everything else
// receives a Runtime value and never touches os.Getenv.
package config

import (
	"time"
)

// Strategy enumerates the credential acquisition strategies a service may declare.
type Strategy string

const (
	StrategyOAuth       Strategy = "oauth"
	StrategyTokenJWT    Strategy = "token-jwt"
	StrategyInteractive Strategy = "interactive-browser"
)

// OutputMode controls whether a cleaner's output zone is rebuilt or extended.
type OutputMode string

const (
	OutputReplace OutputMode = "replace"
	OutputAppend  OutputMode = "append"
)

// OAuthConfig carries the refresh-token flow parameters for oauth services.
// Client credentials are named indirectly via environment variable names so
// secrets never land in the config file.
type OAuthConfig struct {
	ClientIDEnv     string   `yaml:"client_id_env"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	TokenURL        string   `yaml:"token_url"`
	Scopes          []string `yaml:"scopes"`
}

// ServicePolicy is the per-service configuration block.
type ServicePolicy struct {
	MaxCredentialAgeDays int      `yaml:"max_credential_age_days"`
	RefreshThresholdDays int      `yaml:"refresh_threshold_days"`
	Strategy             Strategy `yaml:"strategy"`
	RequiresSecondFactor bool     `yaml:"requires_interactive_second_factor"`
	Accounts             []string `yaml:"accounts"`
	Priority             int      `yaml:"priority"`

	// Domains whose cookies may be persisted for this service (suffix match).
	Domains []string `yaml:"domains"`

	// Session acquisition endpoints.
	HealthEndpoint string `yaml:"health_endpoint"`
	LoginURL       string `yaml:"login_url"`
	// Authenticated predicate: either a URL prefix the browser must reach or
	// a selector that must appear in the DOM. URL prefix wins when both set.
	AuthenticatedURLPrefix string `yaml:"authenticated_url_prefix"`
	AuthenticatedSelector  string `yaml:"authenticated_selector"`

	// ExtractorsParallel permits intra-service extractor parallelism.
	ExtractorsParallel bool `yaml:"extractors_parallel"`

	// StagingOutput selects replace (default) or append-timestamped staging.
	StagingOutput OutputMode `yaml:"staging_output"`
	// RawTranscode optionally emits a transcoded sibling next to the
	// byte-identical raw copy ("none" or a target extension such as "csv").
	RawTranscode string `yaml:"raw_transcode"`

	OAuth OAuthConfig `yaml:"oauth"`
}

// EffectiveAccounts returns the declared accounts or the implicit single account.
func (p ServicePolicy) EffectiveAccounts() []string {
	if len(p.Accounts) == 0 {
		return []string{DefaultAccount}
	}
	return p.Accounts
}

// DefaultAccount names the implicit account of services that declare none.
const DefaultAccount = "default"

// Timeouts groups the per-stage deadlines.
type Timeouts struct {
	Extractor      time.Duration `yaml:"-"`
	Cleaner        time.Duration `yaml:"-"`
	SessionAcquire time.Duration `yaml:"-"`
	SecondFactor   time.Duration `yaml:"-"`

	ExtractorSec      int `yaml:"extractor_timeout_sec"`
	CleanerSec        int `yaml:"cleaner_timeout_sec"`
	SessionAcquireSec int `yaml:"session_acquire_timeout_sec"`
	SecondFactorSec   int `yaml:"second_factor_timeout_sec"`
}

// Retry groups the backoff parameters for Transient/RateLimited failures.
type Retry struct {
	BaseMS   int     `yaml:"base_ms"`
	CapMS    int     `yaml:"cap_ms"`
	Jitter   float64 `yaml:"jitter"`
	MaxTries int     `yaml:"max_tries"`
}

// Runtime is the immutable context handed to every component.
type Runtime struct {
	ProjectRoot        string `yaml:"-"`
	LogLevel           string `yaml:"log_level"`
	ConcurrencyMax     int    `yaml:"concurrency_max"`
	HeadlessBrowser    bool   `yaml:"headless_browser"`
	InteractiveAllowed bool   `yaml:"interactive_allowed"`

	// StatusAddr is the daemon status/metrics listen address; empty disables it.
	StatusAddr string `yaml:"status_addr"`

	// ScheduleEvery is the fixed cadence of the scheduler's interval trigger.
	ScheduleEvery time.Duration `yaml:"schedule_every"`
	// WatchLanding enables the fsnotify on-demand trigger.
	WatchLanding bool `yaml:"watch_landing"`

	Timeouts Timeouts `yaml:"timeouts"`
	Retry    Retry    `yaml:"retry"`

	// RunRetentionDays bounds how long pipeline run records are kept.
	RunRetentionDays int `yaml:"run_retention_days"`
	// RemediationInterval rate-limits remediation sweeps.
	RemediationInterval time.Duration `yaml:"remediation_interval"`
	// HealthCheckInterval is the daemon's cadence for snapshotting health.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// ArchiveRetentionDays is consumed by the external pruning policy, never
	// by the engine itself.
	ArchiveRetentionDays int `yaml:"archive_retention_days"`

	Services map[string]ServicePolicy `yaml:"services"`
}

// Defaults returns a Runtime populated with every documented default.
func Defaults() Runtime {
	return Runtime{
		LogLevel:           "info",
		ConcurrencyMax:     4,
		HeadlessBrowser:    false,
		InteractiveAllowed: true,
		StatusAddr:         ":8484",
		ScheduleEvery:      6 * time.Hour,
		Timeouts: Timeouts{
			ExtractorSec:      900,
			CleanerSec:        600,
			SessionAcquireSec: 120,
			SecondFactorSec:   180,
		},
		Retry: Retry{
			BaseMS:   500,
			CapMS:    30000,
			Jitter:   0.2,
			MaxTries: 4,
		},
		RunRetentionDays:     30,
		RemediationInterval:  30 * time.Minute,
		HealthCheckInterval:  15 * time.Minute,
		ArchiveRetentionDays: 365,
		Services:             map[string]ServicePolicy{},
	}
}

// Policy returns the declared policy for service, or a zero policy with the
// interactive-browser strategy when none is declared.
func (r Runtime) Policy(service string) ServicePolicy {
	if p, ok := r.Services[service]; ok {
		return p
	}
	return ServicePolicy{
		Strategy:             StrategyInteractive,
		MaxCredentialAgeDays: 14,
		RefreshThresholdDays: 10,
		StagingOutput:        OutputReplace,
	}
}
