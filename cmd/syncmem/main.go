package main

import (
	"os"

	"github.com/xupit3r/syncmem/cmd/syncmem/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
