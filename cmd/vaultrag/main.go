// Package main provides the entry point for the vaultrag CLI.
package main

import (
	"os"

	"github.com/vaultrag/vaultrag/cmd/vaultrag/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
