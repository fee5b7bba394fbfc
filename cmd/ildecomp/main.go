// Command ildecomp decompiles IL method bodies of CUE assembly fixtures.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ildecomp/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
