package commands

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/cmd/cli/client"
	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

func newRunCmd() *cobra.Command {
	var noStream bool
	c := &cobra.Command{
		Use:   "run RUNNER [PROMPT...]",
		Short: "Generate a completion, one-shot or interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := clientFromFlags(cmd)
			runner := args[0]

			if len(args) > 1 {
				return generateOnce(cmd, cli, runner, strings.Join(args[1:], " "), noStream)
			}
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				prompt, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				return generateOnce(cmd, cli, runner, string(prompt), noStream)
			}
			return generateInteractive(cmd, cli, runner, noStream)
		},
	}
	c.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full completion instead of streaming")
	return c
}

func generateOnce(cmd *cobra.Command, cli *client.Client, runner, prompt string, noStream bool) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt is empty")
	}
	request := scheduling.GenerateRequest{Prompt: prompt}

	if noStream {
		response, err := cli.Generate(cmd.Context(), runner, request)
		if err != nil {
			return err
		}
		cmd.Println(response.Text)
		return nil
	}

	err := cli.GenerateStream(cmd.Context(), runner, request, func(chunk scheduling.StreamChunk) error {
		cmd.Print(chunk.Text)
		return nil
	})
	if err != nil {
		return err
	}
	cmd.Println()
	return nil
}

func generateInteractive(cmd *cobra.Command, cli *client.Client, runner string, noStream bool) error {
	cmd.Println("Interactive mode. Submit with Enter, exit with Ctrl+D or /bye.")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		cmd.Print("> ")
		if !scanner.Scan() {
			cmd.Println()
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "/bye" {
			return nil
		}
		if err := generateOnce(cmd, cli, runner, prompt, noStream); err != nil {
			// A vanished runner will not come back; give up. Transient
			// generation failures should not end the session.
			if errors.Is(err, client.ErrNotFound) || errors.Is(err, client.ErrServiceUnavailable) {
				return err
			}
			cmd.PrintErrln("Error:", err)
		}
	}
}
