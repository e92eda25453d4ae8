// SPDX-License-Identifier: MIT

// Package session acquires authenticated capabilities for extractor units.
// Silent paths (token refresh, expiry inspection, cookie probe) are always
// tried first; the interactive browser is the fallback, never the default.
package session

import (
	"fmt"
	"strings"

	"github.com/zonelift/zonelift/internal/credstore"
)

// session is the opaque capability handed to extractors. The environment
// rendering is the only contract; extractors never see the bundle itself.
type session struct {
	service string
	account string
	env     []string
}

func (s *session) Service() string { return s.service }
func (s *session) Account() string { return s.account }
func (s *session) Env() []string   { return append([]string(nil), s.env...) }

// tokenSession renders a bearer token capability.
func tokenSession(service, account, accessToken string) *session {
	return &session{
		service: service,
		account: account,
		env:     []string{"ZONELIFT_ACCESS_TOKEN=" + accessToken},
	}
}

// cookieSession renders a cookie-jar capability.
func cookieSession(service, account string, cookies []credstore.Cookie) *session {
	return &session{
		service: service,
		account: account,
		env:     []string{"ZONELIFT_COOKIE_HEADER=" + CookieHeader(cookies)},
	}
}

// CookieHeader renders cookies in Cookie request-header form.
func CookieHeader(cookies []credstore.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return strings.Join(pairs, "; ")
}
