package main

import (
	"os"

	"keymesh/cmd/keymesh/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
