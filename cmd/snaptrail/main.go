package main

import (
	"os"

	"github.com/snaptrail/snaptrail/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
