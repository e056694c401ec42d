package commands

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time.
var Version = "dev"

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the OpenLLM version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("OpenLLM version %s\n", Version)
		},
	}
	return c
}
