// Command repoql validates, explains and calls declarative repository
// contracts, and runs conformance scenarios against them.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/repoql/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
