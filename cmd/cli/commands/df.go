package commands

import (
	"bytes"
	"sort"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/models"
)

func newDFCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "df",
		Short: "Show daemon disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := clientFromFlags(cmd).DiskUsage(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Print(diskUsageTable(usage))
			return nil
		},
	}
	return c
}

func diskUsageTable(usage *models.DiskUsage) string {
	var buf bytes.Buffer
	table := newTable(&buf, "TYPE", "SIZE")
	table.Append([]string{"Models", formatBytes(usage.Store)})

	backends := make([]string, 0, len(usage.Backends))
	for name := range usage.Backends {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	for _, name := range backends {
		if usage.Backends[name] == 0 {
			continue
		}
		table.Append([]string{name + " engine", formatBytes(usage.Backends[name])})
	}

	table.Append([]string{"Total", formatBytes(usage.Total)})
	table.Render()
	return buf.String()
}

func formatBytes(size int64) string {
	return units.CustomSize("%.2f%s", float64(size), 1000.0,
		[]string{"B", "kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"})
}
