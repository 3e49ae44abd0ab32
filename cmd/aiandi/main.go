// aiandi - offline tools for the recordings directory
package main

import (
	"fmt"
	"os"

	"github.com/ai-and-i/recorder/internal/cli"
	"github.com/ai-and-i/recorder/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	deps := &cli.Dependencies{
		Config: cfg,
		Out:    os.Stdout,
	}

	return cli.NewRootCmd(deps).Execute()
}
