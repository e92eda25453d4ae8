// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zonelift/zonelift/internal/unit"
)

// expirySkew guards against a token that expires mid-extraction.
const expirySkew = 2 * time.Minute

// silentJWT inspects the stored bearer token's expiry claim without
// verifying the signature; verification is the upstream's job, the acquirer
// only decides whether a refresh is needed.
func (q *Acquirer) silentJWT(service, account string) (unit.Session, error) {
	bundle, err := q.store.Load(service, account)
	if err != nil {
		return nil, err
	}
	if bundle.RefreshToken == "" {
		return nil, errors.New("bundle holds no bearer token")
	}

	expiry, err := tokenExpiry(bundle.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("inspect token for %s/%s: %w", service, account, err)
	}
	if !expiry.IsZero() && q.now().Add(expirySkew).After(expiry) {
		return nil, fmt.Errorf("token for %s/%s expired %s: %w",
			service, account, expiry.Format(time.RFC3339), unit.ErrAuthFailed)
	}
	return tokenSession(service, account, bundle.RefreshToken), nil
}

// tokenExpiry returns the exp claim, or the zero time when the token carries
// none.
func tokenExpiry(raw string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
