package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wudi/edgevm"
)

var applyCommand = &cli.Command{
	Name:      "apply",
	Usage:     "compile a source file and report its program shape",
	ArgsUsage: "<source-file>",
	Action:    applyAction,
}

func applyAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("apply: missing <source-file>")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	report, _, err := edgevm.CompileAndApply(path, string(src))
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if !report.Applied {
		return fmt.Errorf("apply: rejected: %s", report.Message)
	}

	fmt.Printf("applied %s: %d constants, %s code, %d locals\n",
		path, report.Constants, report.HumanCodeSize(), report.LocalCount)
	return nil
}
