// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/credstore"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/resilience"
	"github.com/zonelift/zonelift/internal/unit"
)

// Authenticator performs the interactive browser login and returns the
// freshly captured bundle. The acquirer persists it through the store.
type Authenticator interface {
	Login(ctx context.Context, service, account string, policy config.ServicePolicy) (*credstore.Bundle, error)
}

// Acquirer implements the per-strategy acquisition table. Acquisitions for
// the same (service, account) pair are serialized; a circuit breaker per
// service stops hammering an upstream that keeps rejecting logins.
type Acquirer struct {
	cfg     config.Runtime
	store   *credstore.Store
	browser Authenticator // nil in browserless deployments
	probe   *http.Client

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	breakers map[string]*resilience.CircuitBreaker

	now func() time.Time
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithAuthenticator attaches the interactive browser fallback.
func WithAuthenticator(a Authenticator) Option {
	return func(q *Acquirer) { q.browser = a }
}

// WithProbeClient overrides the HTTP client used for silent cookie probes.
func WithProbeClient(c *http.Client) Option {
	return func(q *Acquirer) { q.probe = c }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Acquirer) { q.now = now }
}

// NewAcquirer creates an acquirer over the credential store.
func NewAcquirer(cfg config.Runtime, store *credstore.Store, opts ...Option) *Acquirer {
	q := &Acquirer{
		cfg:      cfg,
		store:    store,
		probe:    &http.Client{Timeout: 15 * time.Second},
		locks:    map[string]*sync.Mutex{},
		breakers: map[string]*resilience.CircuitBreaker{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Acquire yields a session for the pair, trying the strategy's silent path
// first and falling back to interactive login.
func (q *Acquirer) Acquire(ctx context.Context, service, account string) (unit.Session, error) {
	if account == "" {
		account = config.DefaultAccount
	}
	lock := q.pairLock(service, account)
	lock.Lock()
	defer lock.Unlock()

	var sess unit.Session
	err := q.breaker(service).Execute(func() error {
		s, err := q.acquire(ctx, service, account)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	return sess, err
}

// Refresh skips the silent path and forces a fresh interactive login for the
// pair. It shares the pair lock with Acquire but bypasses the breaker: an
// operator-initiated refresh must run even when silent attempts tripped it.
func (q *Acquirer) Refresh(ctx context.Context, service, account string) (unit.Session, error) {
	if account == "" {
		account = config.DefaultAccount
	}
	lock := q.pairLock(service, account)
	lock.Lock()
	defer lock.Unlock()

	return q.interactive(ctx, service, account, q.cfg.Policy(service))
}

func (q *Acquirer) acquire(ctx context.Context, service, account string) (unit.Session, error) {
	policy := q.cfg.Policy(service)
	logger := log.WithComponentFromContext(ctx, "session")

	sess, silentErr := q.silent(ctx, service, account, policy)
	if silentErr == nil {
		logger.Debug().
			Str("event", "session.silent_ok").
			Str("pipeline_service", service).
			Str("account", account).
			Str("strategy", string(policy.Strategy)).
			Msg("silent acquisition succeeded")
		return sess, nil
	}

	logger.Info().
		Str("event", "session.silent_failed").
		Str("pipeline_service", service).
		Str("account", account).
		Str("reason", silentErr.Error()).
		Msg("silent acquisition failed, trying interactive")
	return q.interactive(ctx, service, account, policy)
}

// silent dispatches the strategy's non-interactive path.
func (q *Acquirer) silent(ctx context.Context, service, account string, policy config.ServicePolicy) (unit.Session, error) {
	if q.store.StatusFor(service, account, policy) == credstore.StatusExpired {
		return nil, fmt.Errorf("credentials for %s/%s: %w", service, account, errExpired)
	}

	switch policy.Strategy {
	case config.StrategyOAuth:
		return q.silentOAuth(ctx, service, account, policy)
	case config.StrategyTokenJWT:
		return q.silentJWT(service, account)
	default:
		return q.silentProbe(ctx, service, account, policy)
	}
}

var errExpired = errors.New("bundle past max credential age")

// silentProbe checks the stored cookies against the health endpoint with a
// HEAD request (cheap GET on 405).
func (q *Acquirer) silentProbe(ctx context.Context, service, account string, policy config.ServicePolicy) (unit.Session, error) {
	bundle, err := q.store.Load(service, account)
	if err != nil {
		return nil, err
	}
	if len(bundle.Cookies) == 0 {
		return nil, errors.New("bundle holds no cookies")
	}
	if policy.HealthEndpoint == "" {
		// No probe endpoint declared: trust the age check alone.
		return cookieSession(service, account, bundle.Cookies), nil
	}

	status, err := q.probeEndpoint(ctx, http.MethodHead, policy.HealthEndpoint, bundle.Cookies)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = q.probeEndpoint(ctx, http.MethodGet, policy.HealthEndpoint, bundle.Cookies)
	}
	if err != nil {
		return nil, fmt.Errorf("probe %s: %v: %w", policy.HealthEndpoint, err, unit.ErrUpstreamUnavailable)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("probe %s: status %d: %w", policy.HealthEndpoint, status, unit.ErrAuthFailed)
	}
	return cookieSession(service, account, bundle.Cookies), nil
}

func (q *Acquirer) probeEndpoint(ctx context.Context, method, url string, cookies []credstore.Cookie) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Cookie", CookieHeader(cookies))
	resp, err := q.probe.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// interactive runs the browser login under the second-factor or session
// timeout and persists the captured, domain-filtered bundle.
func (q *Acquirer) interactive(ctx context.Context, service, account string, policy config.ServicePolicy) (unit.Session, error) {
	if !q.cfg.InteractiveAllowed || q.browser == nil {
		if policy.RequiresSecondFactor {
			return nil, fmt.Errorf("%s/%s needs a human second factor: %w", service, account, unit.ErrSecondFactorRequired)
		}
		return nil, fmt.Errorf("interactive login unavailable for %s/%s: %w", service, account, unit.ErrAuthFailed)
	}

	timeout := q.cfg.Timeouts.SessionAcquire
	if policy.RequiresSecondFactor && q.cfg.Timeouts.SecondFactor > timeout {
		timeout = q.cfg.Timeouts.SecondFactor
	}
	loginCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	bundle, err := q.browser.Login(loginCtx, service, account, policy)
	if err != nil {
		if loginCtx.Err() != nil {
			return nil, fmt.Errorf("login %s/%s timed out: %w", service, account, unit.ErrAuthFailed)
		}
		return nil, err
	}
	bundle.AcquiredAt = q.now()
	bundle.Strategy = string(policy.Strategy)

	if err := q.store.Save(service, account, *bundle, policy.Domains); err != nil {
		return nil, err
	}
	logger := log.WithComponentFromContext(ctx, "session")
	logger.Info().
		Str("event", "session.interactive_ok").
		Str("pipeline_service", service).
		Str("account", account).
		Msg("interactive login captured fresh credentials")

	stored, err := q.store.Load(service, account)
	if err != nil {
		return nil, err
	}
	if bundle.RefreshToken != "" {
		return tokenSession(service, account, bundle.RefreshToken), nil
	}
	return cookieSession(service, account, stored.Cookies), nil
}

func (q *Acquirer) pairLock(service, account string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := service + "/" + account
	l, ok := q.locks[key]
	if !ok {
		l = &sync.Mutex{}
		q.locks[key] = l
	}
	return l
}

func (q *Acquirer) breaker(service string) *resilience.CircuitBreaker {
	q.mu.Lock()
	defer q.mu.Unlock()
	cb, ok := q.breakers[service]
	if !ok {
		cb = resilience.NewCircuitBreaker("session-"+service, 3, 5*time.Minute)
		q.breakers[service] = cb
	}
	return cb
}
