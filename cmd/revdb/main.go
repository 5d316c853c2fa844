// Command revdb is the command-line front end of the revdb document store.
package main

import (
	"os"

	"github.com/kilupskalvis/revdb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
