// Package config loads the settings of the fasjson-client command line
// tool. Settings come from TOML files, FASJSON_ environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fedora-infra/fasjson-client/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrUnknownConfigKey = errors.New("unknown configuration key")
	ErrConfigNotFound   = errors.New("configuration file does not exist")
	ErrConfigParse      = errors.New("failed to parse configuration file")
	ErrInvalidSettings  = errors.New("invalid configuration")
)

// Settings is the resolved configuration of the command line tool.
type Settings struct {
	URL        string        `json:"url"                   mapstructure:"url"         validate:"required,http_url"            yaml:"url"`
	Principal  string        `json:"principal,omitempty"   mapstructure:"principal"   yaml:"principal,omitempty"`
	APIVersion int           `json:"api_version"           mapstructure:"api_version" validate:"gte=1"                        yaml:"api_version"`
	Verbose    bool          `json:"verbose"               mapstructure:"verbose"     yaml:"verbose"`
	Quiet      bool          `json:"quiet"                 mapstructure:"quiet"       yaml:"quiet"`
	Output     string        `json:"output,omitempty"      mapstructure:"output"      validate:"omitempty,oneof=table json yaml" yaml:"output,omitempty"`
	Timeout    time.Duration `json:"timeout"               mapstructure:"timeout"     validate:"gte=0"                        yaml:"timeout"`
	Kerberos   Kerberos      `json:"kerberos"              mapstructure:"kerberos"    yaml:"kerberos"`
	Cache      Cache         `json:"cache"                 mapstructure:"cache"       yaml:"cache"`
	GetCert    GetCert       `json:"get-cert"              mapstructure:"get-cert"    yaml:"get-cert"`

	// Files lists the configuration files that were read, in load order.
	Files []string `json:"files,omitempty" mapstructure:"-" yaml:"files,omitempty"`
}

// Kerberos configures the GSSAPI credential provider.
type Kerberos struct {
	Krb5Conf string `json:"krb5_conf,omitempty" mapstructure:"krb5_conf" yaml:"krb5_conf,omitempty"`
	CCache   string `json:"ccache,omitempty"    mapstructure:"ccache"    yaml:"ccache,omitempty"`
	Keytab   string `json:"keytab,omitempty"    mapstructure:"keytab"    yaml:"keytab,omitempty"`
	SPN      string `json:"spn,omitempty"       mapstructure:"spn"       yaml:"spn,omitempty"`
}

// Cache configures the spec cache.
type Cache struct {
	Type       string        `json:"type"                  mapstructure:"type"        validate:"oneof=none memory nats"              yaml:"type"`
	Size       int           `json:"size"                  mapstructure:"size"        validate:"gte=0"                               yaml:"size"`
	TTL        time.Duration `json:"ttl"                   mapstructure:"ttl"         validate:"gte=0"                               yaml:"ttl"`
	NATSURL    string        `json:"nats_url,omitempty"    mapstructure:"nats_url"    validate:"required_if=Type nats"               yaml:"nats_url,omitempty"`
	NATSBucket string        `json:"nats_bucket,omitempty" mapstructure:"nats_bucket" yaml:"nats_bucket,omitempty"`
}

// GetCert holds the defaults of the get-cert command.
type GetCert struct {
	Username   string `json:"username,omitempty"    mapstructure:"username"    yaml:"username,omitempty"`
	Existing   bool   `json:"existing"              mapstructure:"existing"    yaml:"existing"`
	PrivateKey string `json:"private_key,omitempty" mapstructure:"private_key" yaml:"private_key,omitempty"`
	SaveTo     string `json:"save_to,omitempty"     mapstructure:"save_to"     yaml:"save_to,omitempty"`
	Overwrite  bool   `json:"overwrite"             mapstructure:"overwrite"   yaml:"overwrite"`
}

// Defaults returns the value of every configuration key when nothing
// sets it. The keys of this map are the only keys accepted in files.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"url":                  constants.DefaultURL,
		"principal":            "",
		"api_version":          constants.DefaultAPIVersion,
		"verbose":              false,
		"quiet":                false,
		"output":               "",
		"timeout":              constants.DefaultHTTPTimeout,
		"kerberos.krb5_conf":   "",
		"kerberos.ccache":      "",
		"kerberos.keytab":      "",
		"kerberos.spn":         "",
		"cache.type":           "none",
		"cache.size":           constants.DefaultCacheSize,
		"cache.ttl":            constants.DefaultSpecCacheTTL,
		"cache.nats_url":       "",
		"cache.nats_bucket":    constants.DefaultNATSBucket,
		"get-cert.username":    "",
		"get-cert.existing":    false,
		"get-cert.private_key": "",
		"get-cert.save_to":     "",
		"get-cert.overwrite":   false,
	}
}

// Options controls where Load looks for settings.
type Options struct {
	// ConfigFile selects a single file instead of the search path.
	ConfigFile string

	// Flags binds configuration keys to command line flags. A flag only
	// takes precedence when it was set on the command line.
	Flags map[string]*pflag.Flag

	// SearchPaths overrides the default file search path.
	SearchPaths []string

	// LookupEnv overrides os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// SearchPaths returns the files read when no file is selected, in load
// order. Later files override earlier ones.
func SearchPaths() []string {
	paths := []string{constants.SystemConfigFile}

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, constants.UserConfigDir, constants.ConfigFileName))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, constants.ConfigFileName))
	}

	return paths
}

// Load resolves the settings.
func Load(opts Options) (*Settings, error) {
	lookupEnv := opts.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	v := viper.New()
	v.SetConfigType("toml")

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	files, err := configFiles(opts, lookupEnv)
	if err != nil {
		return nil, err
	}

	var used []string

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			continue
		}

		v.SetConfigFile(path)

		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrConfigParse, path, err)
		}

		used = append(used, path)
	}

	if err := checkKeys(v); err != nil {
		return nil, err
	}

	// Flags set on the command line win over the environment
	for key := range Defaults() {
		if flag := opts.Flags[key]; flag != nil && flag.Changed {
			continue
		}

		if value, ok := lookupEnv(EnvVar(key)); ok {
			v.Set(key, value)
		}
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}

		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	settings.Files = used

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

// EnvVar returns the environment variable overriding key, e.g.
// FASJSON_GET_CERT_SAVE_TO for get-cert.save_to.
func EnvVar(key string) string {
	return constants.EnvPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
}

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

func configFiles(opts Options, lookupEnv func(string) (string, bool)) ([]string, error) {
	selected := opts.ConfigFile
	if selected == "" {
		if path, ok := lookupEnv(constants.ConfigEnvVar); ok && path != "" {
			selected = path
		}
	}

	if selected != "" {
		if _, err := os.Stat(selected); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, selected)
		}

		return []string{selected}, nil
	}

	if opts.SearchPaths != nil {
		return opts.SearchPaths, nil
	}

	return SearchPaths(), nil
}

func checkKeys(v *viper.Viper) error {
	defaults := Defaults()

	valid := make([]string, 0, len(defaults))
	for key := range defaults {
		valid = append(valid, key)
	}

	sort.Strings(valid)

	for _, key := range v.AllKeys() {
		if _, ok := defaults[key]; !ok {
			return fmt.Errorf("%w %q, valid configuration keys are %s",
				ErrUnknownConfigKey, key, strings.Join(valid, ", "))
		}
	}

	return nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.Verbose && s.Quiet {
		return fmt.Errorf("%w: verbose and quiet cannot be set at the same time", ErrInvalidSettings)
	}

	err := validate().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s %s", fieldPath(e.Namespace()), describe(e)))
	}

	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(messages, "; "))
}

func validate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report configuration keys rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}

		return name
	})

	return v
}

// fieldPath turns "Settings.cache.type" into "cache.type".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}

	return namespace
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "http_url":
		return "must start with http:// or https://"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	default:
		return "is invalid"
	}
}
