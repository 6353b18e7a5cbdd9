package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fedora-infra/fasjson-client/internal/constants"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// NewCallCommand creates the call command.
func NewCallCommand(app *App) *cobra.Command {
	var pageNumber, pageSize int

	cmd := &cobra.Command{
		Use:   "call OPERATION [KEY=VALUE ...]",
		Short: "Call an operation",
		Long: `Call any operation declared by the FASJSON server.

Arguments are given as KEY=VALUE pairs. Repeating a key sends a list,
for instance X-Fields=username X-Fields=emails.`,
		Example: `  fasjson-client call get_user username=admin
  fasjson-client call list_group_members groupname=sysadmin --page-size 10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseArgs(args[1:])
			if err != nil {
				return err
			}

			if pageNumber > 0 {
				callArgs[fasjson.PageNumberArg] = pageNumber
			}

			if pageSize > 0 {
				callArgs[fasjson.PageSizeArg] = pageSize
			}

			client, err := app.Client(cmd.Context())
			if err != nil {
				return err
			}

			resp, err := client.Call(cmd.Context(), args[0], callArgs)
			if err != nil {
				return err
			}

			return app.renderResponse(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().IntVar(&pageNumber, "page-number", 0, "page to fetch")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "results per page")

	return cmd
}

// NewMeCommand creates the me command.
func NewMeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show who you are authenticated as",
		Long:  "Call whoami and display the authenticated identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client(cmd.Context())
			if err != nil {
				return err
			}

			resp, err := client.Call(cmd.Context(), "whoami", nil)
			if err != nil {
				return err
			}

			return app.renderResult(cmd.OutOrStdout(), resp.Result())
		},
	}
}

func (a *App) renderResponse(w io.Writer, resp *fasjson.Response) error {
	if err := a.renderResult(w, resp.Result()); err != nil {
		return err
	}

	if page := resp.Page(); page != nil && a.outputFormat(w) == constants.FormatTable {
		_, err := fmt.Fprintf(w, "\nShowing page %d of %d.\n", page.PageNumber, page.TotalPages)

		return err
	}

	return nil
}
