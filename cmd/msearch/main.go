package main

import (
	"os"

	"github.com/psantana5/modelsearch/cmd/msearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
