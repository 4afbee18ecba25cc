package main

import (
	"os"

	"github.com/brokkr-labs/brokkr/cmd/brokkrctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
