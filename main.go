// Command gigglepipe is the pipeline operator CLI's entry point: it
// loads configuration, builds the root cobra command, and maps its
// result to the exit codes the fleet runner promises (§6): 0 success,
// 1 partial (some users failed), 2 fatal config/credential error.
package main

import (
	"fmt"
	"os"

	"github.com/stokedbloke/gigglepipe/cmd"
	"github.com/stokedbloke/gigglepipe/internal/conf"
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}

	root := cmd.RootCommand(settings)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if cmd.IsPartial(err) {
			return 1
		}
		return 2
	}
	return 0
}
