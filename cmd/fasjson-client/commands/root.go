// Package commands implements the fasjson-client command line tool.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fedora-infra/fasjson-client/internal/config"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
	"github.com/fedora-infra/fasjson-client/pkg/fasjsonclient"
)

// Static errors for err113 compliance.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrSaveToRequired   = errors.New("the destination file must be specified on the command line or in the configuration file")
	ErrFileExists       = errors.New("the destination file already exists")
	ErrPrivateKeyNeeded = errors.New("a new certificate needs a path for the private key to be loaded from or saved to")
	ErrNoCertificate    = errors.New("no existing certificate, you need to request one")
	ErrUserNotFound     = errors.New("user not found")
	ErrBadCertificate   = errors.New("invalid certificate")
	ErrBadPrivateKey    = errors.New("can't load the private key")
)

// Option customizes the root command.
type Option func(*App)

// WithCredentialProvider replaces the Kerberos provider.
func WithCredentialProvider(provider fasjson.CredentialProvider) Option {
	return func(a *App) { a.provider = provider }
}

// WithConfigSearchPaths replaces the configuration file search path.
func WithConfigSearchPaths(paths ...string) Option {
	return func(a *App) { a.searchPaths = append([]string{}, paths...) }
}

// WithLookupEnv replaces the environment lookup.
func WithLookupEnv(lookupEnv func(string) (string, bool)) Option {
	return func(a *App) { a.lookupEnv = lookupEnv }
}

// App is the state shared by every command of one invocation.
type App struct {
	settings *config.Settings
	logger   *Logger
	metrics  *fasjson.MetricsCollector

	provider    fasjson.CredentialProvider
	searchPaths []string
	lookupEnv   func(string) (string, bool)
}

// Settings returns the resolved configuration.
func (a *App) Settings() *config.Settings {
	return a.settings
}

// Client creates a FASJSON client from the resolved configuration.
func (a *App) Client(ctx context.Context) (fasjson.Client, error) {
	cfg, err := a.settings.ClientConfig(ctx, a.logger)
	if err != nil {
		return nil, err
	}

	if a.provider != nil {
		cfg.CredentialProvider = a.provider
	}

	cfg.Interceptors = a.metrics.Register(fasjson.NewInterceptorChain())

	return fasjsonclient.New(ctx, cfg)
}

// NewRootCommand creates the fasjson-client command tree.
func NewRootCommand(info VersionInfo, opts ...Option) *cobra.Command {
	app := &App{}
	for _, opt := range opts {
		opt(app)
	}

	var configFile string

	rootCmd := &cobra.Command{
		Use:   "fasjson-client",
		Short: "FASJSON command line client",
		Long: `Make API calls to FASJSON from the command line.

Every operation declared by the server is available through the call
command. Requests are authenticated with Kerberos.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd, configFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.logStats()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "path to the configuration file")
	flags.String("url", "", "URL of the FASJSON instance")
	flags.String("principal", "", "Kerberos principal to authenticate as")
	flags.BoolP("verbose", "v", false, "print more information")
	flags.BoolP("quiet", "q", false, "print less information")
	flags.StringP("output", "o", "", "output format (table, json, yaml)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(NewVersionCommand(app, info))
	rootCmd.AddCommand(NewConfigCommand(app))
	rootCmd.AddCommand(NewOperationsCommand(app))
	rootCmd.AddCommand(NewCallCommand(app))
	rootCmd.AddCommand(NewListCommand(app))
	rootCmd.AddCommand(NewMeCommand(app))
	rootCmd.AddCommand(NewGetCertCommand(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command, configFile string) error {
	root := cmd.Root().PersistentFlags()

	bound := map[string]*pflag.Flag{}
	for _, key := range []string{"url", "principal", "verbose", "quiet", "output"} {
		bound[key] = root.Lookup(key)
	}

	// get-cert flags override the [get-cert] table
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if key, ok := getCertKeys[flag.Name]; ok && cmd.Name() == getCertCommandName {
			bound[key] = flag
		}
	})

	settings, err := config.Load(config.Options{
		ConfigFile:  configFile,
		Flags:       bound,
		SearchPaths: a.searchPaths,
		LookupEnv:   a.lookupEnv,
	})
	if err != nil {
		return err
	}

	a.settings = settings
	a.logger = NewLogger(cmd.ErrOrStderr(), settings.Verbose, settings.Quiet)
	a.metrics = fasjson.NewMetricsCollector()

	for _, file := range settings.Files {
		a.logger.Debug("Loaded configuration", map[string]interface{}{"file": file})
	}

	return nil
}

// logStats reports the HTTP exchanges of the invocation at debug level.
func (a *App) logStats() {
	if a.metrics == nil {
		return
	}

	for _, name := range a.metrics.Operations() {
		stats, _ := a.metrics.Stats(name)
		a.logger.Debug("Operation statistics", map[string]interface{}{
			"operation": name,
			"calls":     stats.Calls,
			"failures":  stats.Failures,
			"average":   stats.AverageLatency.String(),
		})
	}
}

// parseArgs turns key=value pairs into operation arguments. A repeated
// key collects its values into a list.
func parseArgs(pairs []string) (fasjson.Args, error) {
	args := fasjson.Args{}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q is not a key=value pair", ErrInvalidArgument, pair)
		}

		switch existing := args[key].(type) {
		case nil:
			args[key] = value
		case string:
			args[key] = []string{existing, value}
		case []string:
			args[key] = append(existing, value)
		}
	}

	return args, nil
}
