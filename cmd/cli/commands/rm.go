package commands

import (
	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "rm TAG [TAG...]",
		Short: "Remove stored models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := clientFromFlags(cmd)
			for _, tag := range args {
				if err := cli.DeleteModel(cmd.Context(), tag); err != nil {
					return err
				}
				cmd.Println("Removed", tag)
			}
			return nil
		},
	}
	return c
}
