package commands

import (
	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "stop RUNNER",
		Short: "Stop a runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFromFlags(cmd).DeleteRunner(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("Stopped", args[0])
			return nil
		},
	}
	return c
}
