package main

import (
	"os"

	"github.com/unkn0wn-root/entcache/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
