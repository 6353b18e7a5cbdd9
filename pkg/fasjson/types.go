package fasjson

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/fedora-infra/fasjson-client/internal/constants"
)

// Client is the dynamic FASJSON client. Its operations are discovered
// from the remote spec when the client is created.
type Client interface {
	// Operations returns the operation names in spec declaration order.
	Operations() []string

	// Operation looks up an operation by name. Unknown names return an
	// *UnknownOperationError.
	Operation(name string) (Operation, error)

	// Call invokes the named operation with the given arguments.
	Call(ctx context.Context, name string, args Args) (*Response, error)

	// ListAllEntities walks every page of list_<entity>.
	ListAllEntities(ctx context.Context, entity string, pageSize int) (*EntityIterator, error)

	// Spec describes the loaded spec.
	Spec() SpecInfo
}

// Operation is one remote procedure declared by the spec.
type Operation interface {
	Name() string
	Method() string
	Path() string
	Summary() string
	Tags() []string
	Consumes() []string
	Produces() []string
	Parameters() []Parameter
	Call(ctx context.Context, args Args) (*Response, error)
}

// Parameter describes one declared operation parameter.
type Parameter struct {
	Name        string `json:"name"                  yaml:"name"`
	In          string `json:"in"                    yaml:"in"`
	Type        string `json:"type,omitempty"        yaml:"type,omitempty"`
	Format      string `json:"format,omitempty"      yaml:"format,omitempty"`
	Required    bool   `json:"required"              yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SpecInfo summarizes the loaded spec.
type SpecInfo struct {
	Title      string   `json:"title"                yaml:"title"`
	Version    string   `json:"version"              yaml:"version"`
	Dialect    string   `json:"dialect"              yaml:"dialect"`
	SpecURL    string   `json:"spec_url"             yaml:"spec_url"`
	ServerURL  string   `json:"server_url"           yaml:"server_url"`
	Operations int      `json:"operations"           yaml:"operations"`
	Collisions []string `json:"collisions,omitempty" yaml:"collisions,omitempty"`
}

// Args are the named arguments of an operation call.
type Args map[string]interface{}

// Clone returns a shallow copy of the arguments.
func (a Args) Clone() Args {
	clone := make(Args, len(a))
	for k, v := range a {
		clone[k] = v
	}

	return clone
}

// String renders the arguments as k=v pairs sorted by key.
func (a Args) String() string {
	keys := sortedKeys(a)
	parts := make([]string, 0, len(keys))

	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a[k]))
	}

	return strings.Join(parts, ", ")
}

// Page is the pagination metadata returned with paginated results.
type Page struct {
	PageNumber   int  `json:"page_number"             yaml:"page_number"`
	PageSize     int  `json:"page_size"               yaml:"page_size"`
	TotalPages   int  `json:"total_pages"             yaml:"total_pages"`
	TotalResults *int `json:"total_results,omitempty" yaml:"total_results,omitempty"`
}

// HasNext reports whether a page follows this one.
func (p *Page) HasNext() bool {
	return p != nil && p.PageNumber < p.TotalPages
}

// HasPrev reports whether a page precedes this one.
func (p *Page) HasPrev() bool {
	return p != nil && p.PageNumber > 1
}

// NoExpiry is the lifetime of credentials that never expire.
const NoExpiry = time.Duration(math.MaxInt64)

// Credentials is an authentication context acquired for one target host.
type Credentials struct {
	// Principal is the identity the credentials were acquired for; empty
	// means the ambient default identity.
	Principal string

	// Host is the target host the credentials are valid for.
	Host string

	// Lifetime is the remaining validity at acquisition time.
	Lifetime time.Duration

	// Token is the mechanism specific context.
	Token interface{}
}

// Expired reports whether the credentials have no validity left.
func (c *Credentials) Expired() bool {
	return c == nil || c.Lifetime <= 0
}

// CredentialProvider produces and attaches per-request credentials.
type CredentialProvider interface {
	// Authenticate acquires credentials for host. An empty principal
	// selects the default identity.
	Authenticate(ctx context.Context, host, principal string) (*Credentials, error)

	// Apply attaches credentials to an outbound request.
	Apply(req *http.Request, creds *Credentials) error
}

// CredentialReleaser is implemented by providers whose credentials hold
// resources that must be released once the request completes.
type CredentialReleaser interface {
	Release(creds *Credentials)
}

// KerberosConfig configures the default GSSAPI credential provider.
type KerberosConfig struct {
	// Krb5Conf is the krb5.conf path. Defaults to $KRB5_CONFIG, then /etc/krb5.conf.
	Krb5Conf string

	// CCache is the credential cache path. Defaults to $KRB5CCNAME, then
	// /tmp/krb5cc_<uid>.
	CCache string

	// Keytab, when set, is used to log in instead of the credential cache.
	Keytab string

	// SPN overrides the service principal. Defaults to HTTP/<host>.
	SPN string
}

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]interface{}) {}
func (NopLogger) Info(string, map[string]interface{})  {}
func (NopLogger) Warn(string, map[string]interface{})  {}
func (NopLogger) Error(string, map[string]interface{}) {}

// Config configures a Client.
type Config struct {
	// URL is the base URL of the FASJSON deployment, without the API
	// version, e.g. https://fasjson.fedoraproject.org.
	URL string

	// Principal is the identity used for authentication. Empty selects
	// the default identity of the credential cache.
	Principal string

	// APIVersion selects the spec at {URL}/specs/v{APIVersion}.json.
	APIVersion int

	// CredentialProvider authenticates outbound requests. When nil a
	// GSSAPI provider is built from Kerberos.
	CredentialProvider CredentialProvider

	// Kerberos configures the default GSSAPI provider.
	Kerberos *KerberosConfig

	// HTTPClient is the base HTTP client. Its transport is wrapped with
	// the authenticating transport.
	HTTPClient *http.Client

	// HTTPTimeout bounds a single HTTP exchange.
	HTTPTimeout time.Duration

	// RetryMax enables transport retries of failed idempotent exchanges.
	// Zero, the default, disables retries. Setup errors are never retried.
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// UserAgent overrides the User-Agent header.
	UserAgent string

	// Logger receives debug output. Nil disables logging.
	Logger Logger

	// Debug logs every HTTP exchange.
	Debug bool

	// Interceptors run around every HTTP exchange.
	Interceptors *InterceptorChain

	// Formats adds custom parameter formats on top of DefaultFormats.
	Formats Formats

	// SpecCache stores the fetched spec between client instances.
	SpecCache Cache

	// SpecCacheTTL is how long a cached spec is reused without
	// revalidation. Zero always revalidates.
	SpecCacheTTL time.Duration
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.URL == "" {
		return NewClientError(ErrInvalidConfig, constants.CodeInvalidArgument,
			map[string]interface{}{"message": "url is required"}, nil)
	}

	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return NewClientError(ErrInvalidConfig, constants.CodeInvalidArgument,
			map[string]interface{}{"message": "url must start with http:// or https://", "url": c.URL}, nil)
	}

	if c.APIVersion < 0 {
		return NewClientError(ErrInvalidConfig, constants.CodeInvalidArgument,
			map[string]interface{}{"message": "api version must be positive", "api_version": c.APIVersion}, nil)
	}

	if c.APIVersion == 0 {
		c.APIVersion = constants.DefaultAPIVersion
	}

	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = constants.DefaultHTTPTimeout
	}

	if c.RetryMax < 0 {
		c.RetryMax = 0
	}

	return nil
}

// BaseURL returns the URL without trailing slashes.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.URL, "/")
}

// SpecURL returns the URL of the spec document.
func (c *Config) SpecURL() string {
	return fmt.Sprintf("%s/specs/v%d.json", c.BaseURL(), c.APIVersion)
}

// FallbackServerURL is used when the spec declares no server.
func (c *Config) FallbackServerURL() string {
	return fmt.Sprintf("%s/v%d", c.BaseURL(), c.APIVersion)
}
