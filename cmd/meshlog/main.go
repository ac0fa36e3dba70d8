// Package main is the entry point for the meshlog CLI.
package main

import (
	"os"

	"github.com/meshlog/meshlog/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
