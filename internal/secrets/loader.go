package secrets

import (
	"context"
	"os"
)

// Loader resolves a small number of named secrets, preferring Infisical
// when configured and falling back to environment variables otherwise.
type Loader struct {
	client *Client
	ctx    context.Context
}

// NewLoader creates a secrets loader. If INFISICAL_TOKEN is unset, the
// returned loader answers every lookup from its environment-variable
// fallback.
func NewLoader() (*Loader, error) {
	cfg := LoadConfig()
	if cfg.Token == "" {
		return &Loader{ctx: context.Background()}, nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Loader{client: client, ctx: context.Background()}, nil
}

// LoadUpstreamAPIKey resolves the bearer token sent to the upstream Chat
// Completions API. Priority: Infisical secret "upstream_api_key", then the
// UPSTREAM_API_KEY environment variable, then fallback.
func (l *Loader) LoadUpstreamAPIKey(fallback string) string {
	if l.client != nil {
		if value, err := l.client.GetSecret(l.ctx, "upstream_api_key"); err == nil && value != "" {
			return value
		}
	}
	if val := os.Getenv("UPSTREAM_API_KEY"); val != "" {
		return val
	}
	return fallback
}

// LoadJWTSecret resolves the HMAC secret used to verify inbound bearer
// tokens when JWT authentication is enabled.
func (l *Loader) LoadJWTSecret(fallback string) string {
	if l.client != nil {
		if value, err := l.client.GetSecret(l.ctx, "jwt_secret"); err == nil && value != "" {
			return value
		}
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		return val
	}
	return fallback
}

// IsInfisicalEnabled reports whether secrets are backed by Infisical.
func (l *Loader) IsInfisicalEnabled() bool {
	return l.client != nil
}
