package main

import (
	"os"

	"github.com/joseph-ayodele/docscan/cmd/docscan/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
