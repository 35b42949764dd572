package main

import (
	"os"

	"github.com/rustyeddy/derivatives/cmd/derivsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
