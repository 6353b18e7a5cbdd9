package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

type operationInfo struct {
	Name       string              `json:"name"                 yaml:"name"`
	Method     string              `json:"method"               yaml:"method"`
	Path       string              `json:"path"                 yaml:"path"`
	Summary    string              `json:"summary,omitempty"    yaml:"summary,omitempty"`
	Tags       []string            `json:"tags,omitempty"       yaml:"tags,omitempty"`
	Parameters []fasjson.Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// NewOperationsCommand creates the operations command.
func NewOperationsCommand(app *App) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List available operations",
		Long:    "List the operations declared by the FASJSON server, in declaration order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client(cmd.Context())
			if err != nil {
				return err
			}

			var operations []operationInfo

			for _, name := range client.Operations() {
				op, err := client.Operation(name)
				if err != nil {
					return err
				}

				if tag != "" && !hasTag(op, tag) {
					continue
				}

				operations = append(operations, operationInfo{
					Name:       op.Name(),
					Method:     op.Method(),
					Path:       op.Path(),
					Summary:    op.Summary(),
					Tags:       op.Tags(),
					Parameters: op.Parameters(),
				})
			}

			return app.render(cmd.OutOrStdout(), operations, func(w io.Writer) error {
				return operationsTable(w, operations)
			})
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "only list operations with this tag")

	return cmd
}

func hasTag(op fasjson.Operation, tag string) bool {
	for _, t := range op.Tags() {
		if t == tag {
			return true
		}
	}

	return false
}

func operationsTable(w io.Writer, operations []operationInfo) error {
	if len(operations) == 0 {
		_, err := io.WriteString(w, "No operations found\n")

		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Method", "Path", "Parameters", "Summary")

	for _, op := range operations {
		params := make([]string, 0, len(op.Parameters))
		for _, p := range op.Parameters {
			name := p.Name
			if !p.Required {
				name = "[" + name + "]"
			}

			params = append(params, name)
		}

		_ = table.Append(op.Name, op.Method, op.Path, strings.Join(params, " "), op.Summary)
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
