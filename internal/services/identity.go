package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/sumstream/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSourceIdentity is an [IdentityProvider] backed by an [oauth2.TokenSource].
type TokenSourceIdentity struct {
	src oauth2.TokenSource
}

// NewTokenSourceIdentity wraps src so tokens are cached until they expire.
func NewTokenSourceIdentity(src oauth2.TokenSource) *TokenSourceIdentity {
	return &TokenSourceIdentity{src: oauth2.ReuseTokenSource(nil, src)}
}

// NewIdentityProvider builds an identity from configuration.
//
// A static token wins; otherwise the OAuth2 client credentials flow is used. Missing both is
// [shared.ErrMissingCredentials].
func NewIdentityProvider(ctx context.Context, c shared.IdentityConfig) (*TokenSourceIdentity, error) {
	if c.Token != "" {
		return NewTokenSourceIdentity(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token})), nil
	}

	if c.TokenURL == "" || c.ClientID == "" || c.ClientSecret == "" {
		return nil, fmt.Errorf("%w: set identity.token or identity.token_url, client_id and client_secret", shared.ErrMissingCredentials)
	}

	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
	return NewTokenSourceIdentity(cc.TokenSource(ctx)), nil
}

// IdentityToken returns the current access token.
func (i *TokenSourceIdentity) IdentityToken(ctx context.Context) (string, error) {
	tok, err := i.src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrNotAuthenticated, err)
	}
	if !tok.Valid() {
		return "", shared.ErrNotAuthenticated
	}
	return tok.AccessToken, nil
}
