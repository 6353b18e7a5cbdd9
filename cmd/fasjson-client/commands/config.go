package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fedora-infra/fasjson-client/internal/config"
	"github.com/fedora-infra/fasjson-client/internal/constants"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect CLI configuration",
		Long:  "Inspect the configuration resolved from files, environment and flags",
	}

	cmd.AddCommand(newConfigShowCommand(app))
	cmd.AddCommand(newConfigPathsCommand(app))

	return cmd
}

func newConfigShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display every configuration key with its resolved value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := app.Settings()

			return app.render(cmd.OutOrStdout(), settings, func(w io.Writer) error {
				return settingsTable(w, settings)
			})
		},
	}
}

func newConfigPathsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List configuration files",
		Long:  "List the files searched for configuration, in load order, and the environment variable overriding each key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			for _, path := range config.SearchPaths() {
				loaded := constants.None
				for _, file := range app.Settings().Files {
					if file == path {
						loaded = "loaded"
					}
				}

				_, _ = fmt.Fprintf(w, "%s (%s)\n", path, loaded)
			}

			_, _ = fmt.Fprintf(w, "\n%s selects a single file instead.\n", constants.ConfigEnvVar)

			return nil
		},
	}
}

func settingsTable(w io.Writer, settings *config.Settings) error {
	rows := [][2]string{
		{"url", settings.URL},
		{"principal", orNone(settings.Principal)},
		{"api_version", strconv.Itoa(settings.APIVersion)},
		{"verbose", strconv.FormatBool(settings.Verbose)},
		{"quiet", strconv.FormatBool(settings.Quiet)},
		{"output", orNone(settings.Output)},
		{"timeout", settings.Timeout.String()},
		{"kerberos.krb5_conf", orNone(settings.Kerberos.Krb5Conf)},
		{"kerberos.ccache", orNone(settings.Kerberos.CCache)},
		{"kerberos.keytab", orNone(settings.Kerberos.Keytab)},
		{"kerberos.spn", orNone(settings.Kerberos.SPN)},
		{"cache.type", settings.Cache.Type},
		{"cache.size", strconv.Itoa(settings.Cache.Size)},
		{"cache.ttl", settings.Cache.TTL.String()},
		{"cache.nats_url", orNone(settings.Cache.NATSURL)},
		{"cache.nats_bucket", orNone(settings.Cache.NATSBucket)},
		{"get-cert.username", orNone(settings.GetCert.Username)},
		{"get-cert.existing", strconv.FormatBool(settings.GetCert.Existing)},
		{"get-cert.private_key", orNone(settings.GetCert.PrivateKey)},
		{"get-cert.save_to", orNone(settings.GetCert.SaveTo)},
		{"get-cert.overwrite", strconv.FormatBool(settings.GetCert.Overwrite)},
	}

	table := tablewriter.NewWriter(w)
	table.Header("Key", "Value", "Environment")

	for _, row := range rows {
		_ = table.Append(row[0], row[1], config.EnvVar(row[0]))
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	files := constants.None
	if len(settings.Files) > 0 {
		files = strings.Join(settings.Files, ", ")
	}

	_, err := fmt.Fprintf(w, "\nConfiguration files: %s\n", files)

	return err
}

func orNone(value string) string {
	if value == "" {
		return constants.None
	}

	return value
}
