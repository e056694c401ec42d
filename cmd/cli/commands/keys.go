package commands

import (
	"bytes"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/auth"
)

func newKeysCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	c.AddCommand(
		newKeysCreateCmd(),
		newKeysListCmd(),
		newKeysRemoveCmd(),
	)
	return c
}

func newKeysCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := clientFromFlags(cmd).CreateKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(created.Secret)
			cmd.PrintErrln("Store this key now; it is not shown again.")
			return nil
		},
	}
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List API keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := clientFromFlags(cmd).Keys(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Print(keyTable(keys))
			return nil
		},
	}
}

func newKeysRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFromFlags(cmd).DeleteKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("Removed", args[0])
			return nil
		},
	}
}

func keyTable(keys []*auth.Key) string {
	var buf bytes.Buffer
	table := newTable(&buf, "ID", "NAME", "PREFIX", "CREATED", "LAST USED")
	for _, key := range keys {
		lastUsed := "never"
		if key.LastUsed != nil {
			lastUsed = units.HumanDuration(time.Since(*key.LastUsed)) + " ago"
		}
		table.Append([]string{
			key.ID,
			key.Name,
			key.Prefix + "...",
			units.HumanDuration(time.Since(key.Created)) + " ago",
			lastUsed,
		})
	}
	table.Render()
	return buf.String()
}
