// Package fasjsonclient provides the main entry point for creating FASJSON clients
package fasjsonclient

import (
	"context"
	"strings"

	"github.com/fedora-infra/fasjson-client/internal/client"
	"github.com/fedora-infra/fasjson-client/internal/constants"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// New creates a FASJSON client. The spec is fetched and the operation
// registry built before New returns; any failure is a
// *fasjson.ClientError.
func New(ctx context.Context, config *fasjson.Config) (fasjson.Client, error) {
	if config == nil {
		config = &fasjson.Config{}
	}

	cfg := *config

	if cfg.URL == "" {
		cfg.URL = constants.DefaultURL
	}

	// Normalize the base URL
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	if !strings.Contains(cfg.URL, "://") {
		cfg.URL = "https://" + cfg.URL
	}

	c, err := client.New(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// NewWithURL creates a client for url using the default Kerberos identity.
func NewWithURL(ctx context.Context, url string) (fasjson.Client, error) {
	return New(ctx, &fasjson.Config{
		URL: url,
	})
}

// NewWithPrincipal creates a client authenticating as principal.
func NewWithPrincipal(ctx context.Context, url, principal string) (fasjson.Client, error) {
	return New(ctx, &fasjson.Config{
		URL:       url,
		Principal: principal,
	})
}

// NewWithProvider creates a client using a custom credential provider.
func NewWithProvider(ctx context.Context, url string, provider fasjson.CredentialProvider) (fasjson.Client, error) {
	return New(ctx, &fasjson.Config{
		URL:                url,
		CredentialProvider: provider,
	})
}
