// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/unit"
)

// silentOAuth refreshes the access token from the stored refresh token.
// Client credentials are resolved through the env var names the policy
// declares; the config file never carries secrets.
func (q *Acquirer) silentOAuth(ctx context.Context, service, account string, policy config.ServicePolicy) (unit.Session, error) {
	bundle, err := q.store.Load(service, account)
	if err != nil {
		return nil, err
	}
	if bundle.RefreshToken == "" {
		return nil, errors.New("bundle holds no refresh token")
	}

	clientID := config.ParseString(policy.OAuth.ClientIDEnv, "")
	clientSecret := config.ParseString(policy.OAuth.ClientSecretEnv, "")
	if clientID == "" || policy.OAuth.TokenURL == "" {
		return nil, fmt.Errorf("oauth client for %s not configured", service)
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: policy.OAuth.TokenURL},
		Scopes:       policy.OAuth.Scopes,
	}
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: bundle.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s/%s: %v: %w", service, account, err, unit.ErrAuthFailed)
	}

	// Token rotation: persist a replacement refresh token immediately.
	if token.RefreshToken != "" && token.RefreshToken != bundle.RefreshToken {
		bundle.RefreshToken = token.RefreshToken
		bundle.AcquiredAt = q.now()
		if err := q.store.Save(service, account, *bundle, policy.Domains); err != nil {
			return nil, err
		}
		logger := log.WithComponentFromContext(ctx, "session")
		logger.Info().
			Str("event", "session.refresh_token_rotated").
			Str("pipeline_service", service).
			Str("account", account).
			Msg("upstream rotated the refresh token")
	}

	return tokenSession(service, account, token.AccessToken), nil
}
