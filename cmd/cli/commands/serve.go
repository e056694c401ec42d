package commands

import (
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

func newServeCmd() *cobra.Command {
	var (
		name         string
		pretrained   string
		backend      string
		trust        bool
		params       []string
		maxBatchSize int
		maxLatencyMS int64
	)
	c := &cobra.Command{
		Use:   "serve FAMILY",
		Short: "Create a runner serving a model family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := scheduling.CreateRunnerRequest{
				Family:       args[0],
				Pretrained:   pretrained,
				Backend:      backend,
				Name:         name,
				MaxBatchSize: maxBatchSize,
				MaxLatencyMS: maxLatencyMS,
			}
			if cmd.Flags().Changed("trust-remote-code") {
				request.TrustRemoteCode = &trust
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			request.Params = parsed

			state, err := clientFromFlags(cmd).CreateRunner(cmd.Context(), request)
			if err != nil {
				return err
			}
			cmd.Printf("Runner %s is serving %s on %s\n", state.Name, state.Tag, state.Backend)
			return nil
		},
	}
	c.Flags().StringVar(&name, "name", "", "runner name (defaults to llm-<family>-runner)")
	c.Flags().StringVar(&pretrained, "pretrained", "", "override the family's default pretrained reference")
	c.Flags().StringVar(&backend, "backend", "", "override the family's default backend")
	c.Flags().BoolVar(&trust, "trust-remote-code", false, "allow the model's own conversion code to run")
	c.Flags().StringArrayVar(&params, "param", nil,
		"keyword parameter as KEY=VALUE, repeatable; the _tokenizer_ key prefix scopes a parameter to the tokenizer")
	c.Flags().IntVar(&maxBatchSize, "max-batch-size", 0, "cap on requests batched together")
	c.Flags().Int64Var(&maxLatencyMS, "max-latency-ms", 0, "bound on batching latency in milliseconds")
	return c
}
