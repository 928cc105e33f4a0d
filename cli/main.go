package main

import (
	"os"

	"github.com/ankit-chaubey/opus-tag-surgery/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
