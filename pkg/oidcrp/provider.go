package oidcrp

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/relay/pkg/state"
)

// Config selects and configures the upstream OIDC identity provider.
type Config struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// Identity is the verified subject as reported by the provider.
type Identity struct {
	Subject  string
	Email    string
	FullName string
}

// IdentityVerifier exchanges an authorization code for a verified
// identity. It is the external-library boundary of this package.
type IdentityVerifier interface {
	Exchange(ctx context.Context, code string) (*Identity, string, error)
}

// Provider implements IdentityVerifier on go-oidc with provider discovery.
type Provider struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewProvider discovers the issuer and prepares the code-exchange flow.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: provider discovery failed: %w", state.ErrProtocol, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the provider authorization URL for the given
// correlation token, which rides in the OAuth2 state parameter.
func (p *Provider) AuthCodeURL(token state.Token) string {
	return p.oauth2Config.AuthCodeURL(token.String())
}

// Exchange implements IdentityVerifier. The second return value is the raw
// ID token, retained by the caller for audit.
func (p *Provider) Exchange(ctx context.Context, code string) (*Identity, string, error) {
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("%w: code exchange failed: %w", state.ErrProtocol, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, "", fmt.Errorf("%w: token response carries no id_token", state.ErrProtocol)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, rawIDToken, fmt.Errorf("%w: id token verification failed: %w", state.ErrProtocol, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, rawIDToken, fmt.Errorf("%w: failed to parse claims: %w", state.ErrProtocol, err)
	}

	return &Identity{Subject: idToken.Subject, Email: claims.Email, FullName: claims.Name}, rawIDToken, nil
}
