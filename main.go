package main

import (
	"os"

	"github.com/ecoscout/ecoscout-go/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
