// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/credstore"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/unit"
)

// BrowserAuthenticator drives an isolated Chromium profile through the
// service's login flow. Each (service, account) pair owns its own user-data
// directory under state/profiles/; profiles are never shared across services.
type BrowserAuthenticator struct {
	projectRoot string
	headless    bool
}

// NewBrowserAuthenticator creates the playwright-backed interactive fallback.
func NewBrowserAuthenticator(projectRoot string, headless bool) *BrowserAuthenticator {
	return &BrowserAuthenticator{projectRoot: projectRoot, headless: headless}
}

// ProfileDir returns the dedicated user-data directory of a pair.
func (b *BrowserAuthenticator) ProfileDir(service, account string) string {
	return filepath.Join(b.projectRoot, "state", "profiles", service, account)
}

// Login opens the service's login URL and waits for the authenticated
// predicate, then captures the context's cookies. The caller applies the
// domain filter on save.
func (b *BrowserAuthenticator) Login(ctx context.Context, service, account string, policy config.ServicePolicy) (*credstore.Bundle, error) {
	if policy.LoginURL == "" {
		return nil, fmt.Errorf("service %s declares no login_url: %w", service, unit.ErrAuthFailed)
	}
	logger := log.WithComponentFromContext(ctx, "browser")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	defer pw.Stop() //nolint:errcheck // driver teardown

	browserCtx, err := pw.Chromium.LaunchPersistentContext(
		b.ProfileDir(service, account),
		playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(b.headless),
		})
	if err != nil {
		return nil, fmt.Errorf("launch profile for %s/%s: %w", service, account, err)
	}
	defer browserCtx.Close() //nolint:errcheck // profile flushed on close

	page, err := activePage(browserCtx)
	if err != nil {
		return nil, err
	}
	if _, err := page.Goto(policy.LoginURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, fmt.Errorf("open login url: %v: %w", err, unit.ErrUpstreamUnavailable)
	}

	logger.Info().
		Str("event", "browser.awaiting_login").
		Str("pipeline_service", service).
		Str("account", account).
		Bool("second_factor", policy.RequiresSecondFactor).
		Msg("waiting for authenticated predicate")

	if err := waitAuthenticated(ctx, page, policy); err != nil {
		return nil, fmt.Errorf("login %s/%s: %v: %w", service, account, err, unit.ErrAuthFailed)
	}

	raw, err := browserCtx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies for %s/%s: %w", service, account, err)
	}
	return &credstore.Bundle{Cookies: convertCookies(raw)}, nil
}

func activePage(browserCtx playwright.BrowserContext) (playwright.Page, error) {
	if pages := browserCtx.Pages(); len(pages) > 0 {
		return pages[0], nil
	}
	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

// waitAuthenticated polls the policy's predicate until the context deadline.
// A URL prefix wins over a DOM selector when both are declared.
func waitAuthenticated(ctx context.Context, page playwright.Page, policy config.ServicePolicy) error {
	deadlineMS := float64(0)
	if deadline, ok := ctx.Deadline(); ok {
		deadlineMS = float64(time.Until(deadline).Milliseconds())
	}

	if prefix := policy.AuthenticatedURLPrefix; prefix != "" {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			if strings.HasPrefix(page.URL(), prefix) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	if sel := policy.AuthenticatedSelector; sel != "" {
		opts := playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}
		if deadlineMS > 0 {
			opts.Timeout = playwright.Float(deadlineMS)
		}
		return page.Locator(sel).WaitFor(opts)
	}
	return fmt.Errorf("no authenticated predicate declared")
}

func convertCookies(raw []playwright.Cookie) []credstore.Cookie {
	cookies := make([]credstore.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := credstore.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}
