// Command katalist infers Go schema modules from JSON documents and rewrites
// tagged katalist client calls to use them.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/katalist/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "katalist:", err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
