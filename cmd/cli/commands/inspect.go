package commands

import (
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "inspect TAG",
		Short: "Show a stored model's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := clientFromFlags(cmd).Model(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, model)
		},
	}
	return c
}
