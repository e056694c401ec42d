package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/cmd/cli/client"
)

// NewRootCmd creates the openllm command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "openllm",
		Short:         "Operate self-hosted large language models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("host", defaultHost(),
		"daemon unix socket path or http(s) address")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("OPENLLM_API_KEY"),
		"API key for daemons that require authentication")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(),
		newListCmd(),
		newFamiliesCmd(),
		newImportCmd(),
		newInspectCmd(),
		newRemoveCmd(),
		newServeCmd(),
		newStopCmd(),
		newPSCmd(),
		newRunCmd(),
		newDFCmd(),
		newActivityCmd(),
		newKeysCmd(),
	)
	return rootCmd
}

func defaultHost() string {
	if host := os.Getenv("OPENLLM_HOST"); host != "" {
		return host
	}
	return "openllm.sock"
}

// clientFromFlags builds the daemon client from the persistent flags.
func clientFromFlags(cmd *cobra.Command) *client.Client {
	host, _ := cmd.Flags().GetString("host")
	apiKey, _ := cmd.Flags().GetString("api-key")
	return client.New(host, apiKey)
}
