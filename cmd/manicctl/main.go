package main

import (
	"os"

	"github.com/uprootiny/manicctl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
