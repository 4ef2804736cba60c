// Package main is the entry point for the towerbot CLI.
package main

import (
	"os"

	"github.com/frontiertower/towerbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
