// Command scratchpad syncs remote tables into editable local snapshots.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/scratchpad/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
