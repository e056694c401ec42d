package commands

import (
	"bytes"
	"encoding/json"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// newTable creates the borderless left-aligned table writer the listing
// commands share.
func newTable(buf *bytes.Buffer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetHeader(headers)

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	alignment := make([]int, len(headers))
	for i := range alignment {
		alignment[i] = tablewriter.ALIGN_LEFT
	}
	table.SetColumnAlignment(alignment)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
