// Package auth attaches per-request credentials to outbound FASJSON
// requests and normalizes every credential failure into a setup error.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Acquire asks provider for credentials and checks their lifetime. Any
// failure is returned as a *fasjson.ClientError: mechanism errors become
// ErrAuthenticationFailed with the cause in data["error"], and a
// non-positive lifetime becomes ErrAuthenticationExpired.
func Acquire(ctx context.Context, provider fasjson.CredentialProvider, host, principal string) (*fasjson.Credentials, error) {
	creds, err := provider.Authenticate(ctx, host, principal)
	if err != nil {
		return nil, Normalize(err, host, principal)
	}

	if creds == nil {
		return nil, fasjson.NewClientError(fasjson.ErrAuthenticationFailed, fasjson.CodeProtocol,
			failureData(host, principal, nil), nil)
	}

	if creds.Expired() {
		release(provider, creds)

		data := failureData(host, principal, nil)
		data["lifetime"] = creds.Lifetime.String()

		return nil, fasjson.NewClientError(fasjson.ErrAuthenticationExpired, fasjson.CodeProtocol, data, nil)
	}

	return creds, nil
}

// Normalize converts a credential mechanism error into a setup error.
// Errors that already are setup errors are returned unchanged.
func Normalize(err error, host, principal string) error {
	var clientErr *fasjson.ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	return fasjson.NewClientError(fasjson.ErrAuthenticationFailed, fasjson.CodeProtocol,
		failureData(host, principal, err), err)
}

func failureData(host, principal string, err error) map[string]interface{} {
	data := map[string]interface{}{
		"host": host,
	}

	if principal != "" {
		data["principal"] = principal
	}

	if err != nil {
		data["error"] = err.Error()
	}

	return data
}

func release(provider fasjson.CredentialProvider, creds *fasjson.Credentials) {
	if releaser, ok := provider.(fasjson.CredentialReleaser); ok {
		releaser.Release(creds)
	}
}

// Transport authenticates every request it sends, including the ones
// issued for redirects and retries. Credentials are acquired for the
// host of each request and released once the response headers arrive.
type Transport struct {
	Provider  fasjson.CredentialProvider
	Principal string
	Base      http.RoundTripper
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(provider fasjson.CredentialProvider, principal string, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		Provider:  provider,
		Principal: principal,
		Base:      base,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Provider == nil {
		return t.Base.RoundTrip(req)
	}

	host := Hostname(req)

	creds, err := Acquire(req.Context(), t.Provider, host, t.Principal)
	if err != nil {
		closeBody(req)

		return nil, err
	}

	defer release(t.Provider, creds)

	authReq := req.Clone(req.Context())

	if err := t.Provider.Apply(authReq, creds); err != nil {
		closeBody(req)

		return nil, Normalize(fmt.Errorf("failed to apply credentials: %w", err), host, t.Principal)
	}

	return t.Base.RoundTrip(authReq)
}

// Hostname returns the target host of req without port.
func Hostname(req *http.Request) string {
	host := req.URL.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}

	return host
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
