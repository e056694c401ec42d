package commands

import (
	"bytes"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/activity"
)

func newActivityCmd() *cobra.Command {
	var (
		kind  string
		limit int
	)
	c := &cobra.Command{
		Use:   "activity",
		Short: "Show recent daemon events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := clientFromFlags(cmd).Activity(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}
			cmd.Print(activityTable(events))
			return nil
		},
	}
	c.Flags().StringVar(&kind, "kind", "", "only show events of this kind")
	c.Flags().IntVar(&limit, "limit", 0, "maximum number of events to show")
	return c
}

func activityTable(events []*activity.Event) string {
	var buf bytes.Buffer
	table := newTable(&buf, "WHEN", "KIND", "SUBJECT", "DETAIL")
	for _, event := range events {
		table.Append([]string{
			units.HumanDuration(time.Since(event.At)) + " ago",
			event.Kind,
			event.Subject,
			event.Detail,
		})
	}
	table.Render()
	return buf.String()
}
