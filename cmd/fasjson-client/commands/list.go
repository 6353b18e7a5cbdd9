package commands

import (
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(app *App) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "list ENTITY",
		Short: "List every entity of a kind",
		Long: `Fetch every page of list_ENTITY and display all the records.

Pages are requested one at a time until the server reports the last one.`,
		Example: `  fasjson-client list users
  fasjson-client list groups --page-size 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client(cmd.Context())
			if err != nil {
				return err
			}

			entities, err := client.ListAllEntities(cmd.Context(), args[0], pageSize)
			if err != nil {
				return err
			}

			records := []interface{}{}

			for record, err := range entities.Seq() {
				if err != nil {
					return err
				}

				records = append(records, record)
			}

			app.logger.Debug("Listed entities", map[string]interface{}{
				"entity":  args[0],
				"records": len(records),
				"pages":   entities.Pages(),
			})

			return app.renderResult(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per request (default 1000)")

	return cmd
}
