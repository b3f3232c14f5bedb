// Command docchat is the entry point for the docchat document assistant.
// It provides a CLI interface (via Cobra) for ingesting documents and
// chatting over them, plus an optional HTTP server for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docchat-go/cmd/docchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
