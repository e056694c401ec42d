package main

import (
	"fmt"
	"os"

	"github.com/Vortextech01/OpenLLM/cmd/cli/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
