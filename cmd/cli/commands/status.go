package commands

import (
	"errors"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/cmd/cli/client"
)

func newStatusCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Check if the OpenLLM daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFromFlags(cmd).Status(cmd.Context())
			if err != nil {
				if errors.Is(err, client.ErrServiceUnavailable) {
					cmd.Println("The OpenLLM daemon is not running")
					osExit(1)
					return nil
				}
				return err
			}

			cmd.Printf("The OpenLLM daemon is %s\n", status.Status)
			backends := make([]string, 0, len(status.Backends))
			for name := range status.Backends {
				backends = append(backends, name)
			}
			sort.Strings(backends)
			for _, name := range backends {
				state := status.Backends[name]
				if state.Detail != "" {
					cmd.Printf("%s: %s (%s)\n", name, state.Install, state.Detail)
				} else {
					cmd.Printf("%s: %s\n", name, state.Install)
				}
			}
			return nil
		},
	}
	return c
}

var osExit = os.Exit
