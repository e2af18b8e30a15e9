// Package main provides the entry point for the fbc CLI.
package main

import (
	"fmt"
	"os"

	"github.com/iamfarzad/FBC-masterV5--sub003/cmd/fbc/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
