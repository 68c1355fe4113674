// Command edgevmctl is the operator-facing CLI around package edgevm's
// control-plane calls: compile and apply a source program, run it once
// against a synthetic request, drop into the interactive stdio debug
// console, or inspect a recording taken from a previous run. Modeled on
// the teacher's cmd/hey, down to splitting each sub-command into its own
// file with a package-level *cli.Command var plus an Action function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "edgevmctl",
		Usage: "inspect and drive the edge VM from the command line",
		Commands: []*cli.Command{
			applyCommand,
			runCommand,
			debugCommand,
			replayCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "edgevmctl:", err)
		os.Exit(1)
	}
}
