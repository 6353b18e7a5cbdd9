package constants

import "time"

// File and directory permissions.
const (
	// PrivateKeyPerm is the permission for generated private keys.
	PrivateKeyPerm = 0600

	// CertificatePerm is the permission for written certificates.
	CertificatePerm = 0644
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as connecting to NATS.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits. Retries are off unless a caller asks for them.
const (
	// DefaultRetryMax is the default maximum number of retries.
	DefaultRetryMax = 0

	// DefaultRetryWaitMin is the minimum wait time between retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second
)

// Client defaults.
const (
	// DefaultURL is the FASJSON deployment used when none is configured.
	DefaultURL = "https://fasjson.fedoraproject.org"

	// DefaultAPIVersion is the spec version loaded by default.
	DefaultAPIVersion = 1

	// DefaultPageSize is the page size used to walk whole collections.
	DefaultPageSize = 1000

	// UserAgent is sent with every request.
	UserAgent = "fasjson-client-go"

	// ListOperationPrefix prefixes the list operation of an entity.
	ListOperationPrefix = "list_"
)

// Error codes that are not HTTP statuses.
const (
	// CodeInvalidArgument is used for unusable configuration.
	CodeInvalidArgument = 22
)

// Cache defaults.
const (
	// DefaultCacheSize is the number of specs kept by the memory cache.
	DefaultCacheSize = 16

	// DefaultSpecCacheTTL is how long a cached spec is trusted before it
	// is revalidated.
	DefaultSpecCacheTTL = 1 * time.Hour

	// DefaultNATSBucket is the key-value bucket holding cached specs.
	DefaultNATSBucket = "fasjson_specs"
)

// Certificate workflow.
const (
	// RSAKeyBits is the size of generated private keys.
	RSAKeyBits = 2048
)

// Configuration files and environment.
const (
	// ConfigEnvVar selects a single configuration file.
	ConfigEnvVar = "FASJSON_CLIENT_CONF"

	// EnvPrefix prefixes environment overrides of configuration keys.
	EnvPrefix = "FASJSON"

	// SystemConfigFile is the system-wide configuration file.
	SystemConfigFile = "/etc/fasjson-client/config.toml"

	// UserConfigDir is the per-user configuration directory, relative to
	// the user config root.
	UserConfigDir = "fasjson-client"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.toml"
)

// Display constants.
const (
	// None is used when no value is present.
	None = "none"
)

// Format constants.
const (
	// FormatTable for table output format.
	FormatTable = "table"

	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"
)
