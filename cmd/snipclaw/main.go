// Command snipclaw runs the snippet bot and its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/snipclaw/cmd/snipclaw/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
