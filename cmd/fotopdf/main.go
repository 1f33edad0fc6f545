package main

import (
	"os"

	"github.com/spherical/fotopdf/cmd/fotopdf/commands"
	"github.com/spherical/fotopdf/cmd/fotopdf/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
