package commands

import (
	"bytes"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

func newPSCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "ps",
		Short: "List active runners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runners, err := clientFromFlags(cmd).Runners(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, runners)
			}
			cmd.Print(runnerTable(runners))
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return c
}

func runnerTable(runners []*scheduling.RunnerState) string {
	var buf bytes.Buffer
	table := newTable(&buf, "NAME", "FAMILY", "BACKEND", "MODEL", "CREATED")
	for _, runner := range runners {
		table.Append([]string{
			runner.Name,
			runner.Family,
			runner.Backend,
			runner.Tag,
			units.HumanDuration(time.Since(runner.Created)) + " ago",
		})
	}
	table.Render()
	return buf.String()
}
