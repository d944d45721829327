package main

import (
	"os"

	"github.com/gatewise/tarmac/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
