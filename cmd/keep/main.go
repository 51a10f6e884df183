// Package main provides the entry point for the keep CLI.
package main

import (
	"os"

	"github.com/hughpyle/keep/cmd/keep/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
