// Package main provides the entry point for the autoform CLI.
package main

import (
	"os"

	"github.com/randalmurphal/autoform/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
