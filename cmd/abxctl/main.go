// The abxctl binary is the operator CLI for the experiments engine.
package main

import (
	"os"

	"github.com/propelkit/experiments/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
