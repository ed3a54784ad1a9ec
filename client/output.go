package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// table is what list commands render. Value is encoded as is by the json and yaml formats.
type table struct {
	header []string
	rows   [][]string
	value  any
}

func render(cmd *cobra.Command, t table) error {
	return renderTo(cmd.OutOrStdout(), output, t)
}

func renderTo(w io.Writer, format string, t table) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(t.value)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(t.value)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		if len(t.header) > 0 {
			fmt.Fprintln(tw, strings.Join(t.header, "\t"))
		}
		for _, row := range t.rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		return tw.Flush()
	case "name":
		for _, row := range t.rows {
			if len(row) > 0 {
				fmt.Fprintln(w, row[0])
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format '%s' (table, name, json, yaml)", format)
	}
}

// names renders a plain list of labels.
func names(labels []string) table {
	rows := make([][]string, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, []string{label})
	}
	return table{header: []string{"NAME"}, rows: rows, value: labels}
}
