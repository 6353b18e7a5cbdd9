package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/fedora-infra/fasjson-client/internal/constants"
)

const defaultJSONIndent = 2

// outputFormat returns the configured format. Without one, terminals get
// tables and pipes get JSON.
func (a *App) outputFormat(w io.Writer) string {
	if a.settings != nil && a.settings.Output != "" {
		return a.settings.Output
	}

	if isTerminal(w) {
		return constants.FormatTable
	}

	return constants.FormatJSON
}

// render writes value in the configured format. table renders it with
// tablewriter when the format is table.
func (a *App) render(w io.Writer, value interface{}, table func(io.Writer) error) error {
	switch a.outputFormat(w) {
	case constants.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

		return encoder.Encode(value)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)
		if err := encoder.Encode(value); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}

		return encoder.Close()
	default:
		return table(w)
	}
}

// renderResult renders a decoded FASJSON result: a list of records is a
// table with one column per field, a record is a property table and
// anything else is printed as is.
func (a *App) renderResult(w io.Writer, result interface{}) error {
	return a.render(w, result, func(w io.Writer) error {
		switch v := result.(type) {
		case []interface{}:
			return recordsTable(w, v)
		case map[string]interface{}:
			return propertiesTable(w, v)
		case nil:
			return nil
		default:
			_, err := fmt.Fprintln(w, formatCell(v))

			return err
		}
	})
}

func recordsTable(w io.Writer, records []interface{}) error {
	if len(records) == 0 {
		_, err := io.WriteString(w, "No results found\n")

		return err
	}

	columns := recordColumns(records)
	if columns == nil {
		// not a list of records
		for _, record := range records {
			if _, err := fmt.Fprintln(w, formatCell(record)); err != nil {
				return err
			}
		}

		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header(toAny(columns)...)

	for _, record := range records {
		fields, _ := record.(map[string]interface{})

		row := make([]interface{}, len(columns))
		for i, column := range columns {
			row[i] = formatCell(fields[column])
		}

		if err := table.Append(row...); err != nil {
			return fmt.Errorf("failed to add table row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func propertiesTable(w io.Writer, properties map[string]interface{}) error {
	keys := make([]string, 0, len(properties))
	for key := range properties {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	for _, key := range keys {
		_ = table.Append(propertyLabel(key), formatCell(properties[key]))
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// propertyLabel turns a field name such as human_name into Human Name.
func propertyLabel(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// recordColumns returns the union of the record fields, with the
// FASJSON identifiers first. It returns nil if any item is not a record.
func recordColumns(records []interface{}) []string {
	seen := map[string]bool{}

	for _, record := range records {
		fields, ok := record.(map[string]interface{})
		if !ok {
			return nil
		}

		for key := range fields {
			seen[key] = true
		}
	}

	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}

	sort.Slice(columns, func(i, j int) bool {
		ri, rj := columnRank(columns[i]), columnRank(columns[j])
		if ri != rj {
			return ri < rj
		}

		return columns[i] < columns[j]
	})

	return columns
}

func columnRank(column string) int {
	switch column {
	case "username", "groupname":
		return 0
	case "uri":
		return 2
	default:
		return 1
	}
}

func formatCell(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatCell(item)
		}

		return strings.Join(parts, ", ")
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}
