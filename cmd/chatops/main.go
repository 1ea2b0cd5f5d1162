package main

import (
	"os"

	"github.com/miradorstack/mirador-chatops/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
