// SPDX-License-Identifier: MIT

// Package credstore is the single owner of persisted authentication material.
// Extractors and the session acquirer never write credential files directly.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/log"
	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
)

// ErrNotFound is returned when no bundle exists for a (service, account) pair.
var ErrNotFound = errors.New("credential bundle not found")

// Status classifies a bundle's age against the service policy.
type Status string

const (
	StatusValid        Status = "valid"
	StatusExpiringSoon Status = "expiring-soon"
	StatusExpired      Status = "expired"
	StatusMissing      Status = "missing"
)

// Cookie is one persisted browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	SameSite string    `json:"same_site,omitempty"`
}

// Bundle is the persisted authentication material for one (service, account).
type Bundle struct {
	Cookies      []Cookie  `json:"cookies"`
	AcquiredAt   time.Time `json:"acquired_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Strategy     string    `json:"strategy"`
}

// Store persists bundles under credentials/<service>/<account>.json.
// Writes for the same (service, account) pair are serialized.
type Store struct {
	root string // credentials directory

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// New creates a store rooted at the project's credentials directory.
func New(projectRoot string) *Store {
	return &Store{
		root:  filepath.Join(projectRoot, "credentials"),
		locks: map[string]*sync.Mutex{},
		now:   time.Now,
	}
}

// Dir returns the credentials directory, injected into unit environments.
func (s *Store) Dir() string { return s.root }

func (s *Store) pairLock(service, account string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := service + "/" + account
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) bundlePath(service, account string) string {
	if account == "" {
		account = config.DefaultAccount
	}
	return filepath.Join(s.root, service, account+".json")
}

// Load reads the bundle for a pair, or ErrNotFound.
func (s *Store) Load(service, account string) (*Bundle, error) {
	data, err := os.ReadFile(s.bundlePath(service, account)) // #nosec G304 -- store-derived path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load bundle %s/%s: %w", service, account, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle %s/%s: %w", service, account, err)
	}
	return &b, nil
}

// Save persists the bundle atomically with owner-only permissions. Cookies
// whose domain does not suffix-match one of the service's declared domains
// are dropped before the write: a bundle never contains secrets of a foreign
// service.
func (s *Store) Save(service, account string, b Bundle, allowedDomains []string) error {
	lock := s.pairLock(service, account)
	lock.Lock()
	defer lock.Unlock()

	kept, dropped := FilterCookies(b.Cookies, allowedDomains)
	if dropped > 0 {
		logger := log.WithComponent("credstore")
		logger.Warn().
			Str("event", "credstore.foreign_cookies_dropped").
			Str("pipeline_service", service).
			Int("dropped", dropped).
			Msg("discarded cookies outside declared domains")
	}
	b.Cookies = kept

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle %s/%s: %w", service, account, err)
	}
	data = append(data, '\n')
	path := s.bundlePath(service, account)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credential dir for %s: %w", service, err)
	}
	if err := platformfs.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("save bundle %s/%s: %w", service, account, err)
	}
	return nil
}

// Age returns the time elapsed since acquisition, or ErrNotFound.
func (s *Store) Age(service, account string) (time.Duration, error) {
	b, err := s.Load(service, account)
	if err != nil {
		return 0, err
	}
	return s.now().Sub(b.AcquiredAt), nil
}

// StatusFor computes the bundle status against the service policy.
func (s *Store) StatusFor(service, account string, policy config.ServicePolicy) Status {
	age, err := s.Age(service, account)
	if err != nil {
		return StatusMissing
	}
	maxAge := time.Duration(policy.MaxCredentialAgeDays) * 24 * time.Hour
	threshold := time.Duration(policy.RefreshThresholdDays) * 24 * time.Hour
	switch {
	case age >= maxAge:
		return StatusExpired
	case threshold > 0 && age >= threshold:
		return StatusExpiringSoon
	default:
		return StatusValid
	}
}

// FilterCookies keeps cookies whose domain suffix-matches one of the allowed
// domains and reports how many were dropped. An empty allow-list keeps
// nothing: a service without declared domains persists no cookies.
func FilterCookies(cookies []Cookie, allowedDomains []string) (kept []Cookie, dropped int) {
	for _, c := range cookies {
		if domainAllowed(c.Domain, allowedDomains) {
			kept = append(kept, c)
		} else {
			dropped++
		}
	}
	return kept, dropped
}

func domainAllowed(domain string, allowed []string) bool {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, a := range allowed {
		a = strings.TrimPrefix(strings.ToLower(a), ".")
		if d == a || strings.HasSuffix(d, "."+a) {
			return true
		}
	}
	return false
}
