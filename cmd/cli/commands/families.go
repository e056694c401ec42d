package commands

import (
	"bytes"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/models"
)

func newFamiliesCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "families",
		Short: "List the model families the daemon can import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			families, err := clientFromFlags(cmd).Families(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, families)
			}
			cmd.Print(familyTable(families))
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return c
}

func familyTable(families []*models.Family) string {
	var buf bytes.Buffer
	table := newTable(&buf, "FAMILY", "DEFAULT MODEL", "VARIANTS", "CONTEXT")
	for _, family := range families {
		defaultModel := family.DefaultModel
		if defaultModel == "" {
			defaultModel = "-"
		}
		table.Append([]string{
			family.Name,
			defaultModel,
			strconv.Itoa(len(family.Variants)),
			strconv.Itoa(family.ContextSize),
		})
	}
	table.Render()
	return buf.String()
}
