package commands

import (
	"bytes"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/models"
)

func newListCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := clientFromFlags(cmd).Models(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, list)
			}
			cmd.Print(modelTable(list))
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return c
}

func modelTable(list models.ModelList) string {
	var buf bytes.Buffer
	table := newTable(&buf, "TAG", "FAMILY", "BACKEND", "FORMAT", "SIZE", "CREATED")
	for _, model := range list {
		table.Append([]string{
			model.Tag,
			model.Family,
			model.Backend,
			model.Format,
			units.HumanSize(float64(model.Size)),
			units.HumanDuration(time.Since(model.Created)) + " ago",
		})
	}
	table.Render()
	return buf.String()
}
