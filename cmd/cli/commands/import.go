package commands

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/models"
)

func newImportCmd() *cobra.Command {
	var (
		pretrained string
		backend    string
		trust      bool
		params     []string
	)
	c := &cobra.Command{
		Use:   "import FAMILY",
		Short: "Import a model family's weights into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := models.ImportRequest{
				Family:     args[0],
				Pretrained: pretrained,
				Backend:    backend,
			}
			if cmd.Flags().Changed("trust-remote-code") {
				request.TrustRemoteCode = &trust
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			request.Params = parsed

			cmd.Printf("Importing %s, this may take a while\n", args[0])
			model, err := clientFromFlags(cmd).ImportModel(cmd.Context(), request)
			if err != nil {
				return err
			}
			cmd.Printf("Imported %s (%s)\n", model.Tag, units.HumanSize(float64(model.Size)))
			return nil
		},
	}
	c.Flags().StringVar(&pretrained, "pretrained", "", "override the family's default pretrained reference")
	c.Flags().StringVar(&backend, "backend", "", "override the family's default backend")
	c.Flags().BoolVar(&trust, "trust-remote-code", false, "allow the model's own conversion code to run")
	c.Flags().StringArrayVar(&params, "param", nil,
		"keyword parameter as KEY=VALUE, repeatable; the _tokenizer_ key prefix scopes a parameter to the tokenizer")
	return c
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (want KEY=VALUE)", pair)
		}
		params[key] = value
	}
	return params, nil
}
