package main

import (
	"os"

	"github.com/tutu-network/shf/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
