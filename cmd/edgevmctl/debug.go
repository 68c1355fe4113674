package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/wudi/edgevm/compiler"
	"github.com/wudi/edgevm/debugger"
	"github.com/wudi/edgevm/recording"
	"github.com/wudi/edgevm/vm"
)

var debugCommand = &cli.Command{
	Name:      "debug",
	Usage:     "compile a program and drop into an interactive stdio debugger",
	ArgsUsage: "<source-file>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "record", Usage: "record the session for later replay"},
		&cli.StringFlag{Name: "save", Usage: "write the recording to this file on exit"},
	},
	Action: debugAction,
}

// debugAction runs debugger.New()'s stdio REPL directly against the
// compiled program, the way edgevmctl debug is meant to be driven by a
// human at a terminal (§4.9). A session id is printed up front purely so
// multiple concurrent debug sessions can be told apart in shell history
// and logs; it has no bearing on VM execution.
func debugAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("debug: missing <source-file>")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("debug: %w", err)
	}
	compiled, err := compiler.CompileSourceFile(path, string(src))
	if err != nil {
		return fmt.Errorf("debug: %w", err)
	}

	sessionID := uuid.NewString()
	fmt.Printf("edgevmctl debug session %s (%s)\n", sessionID, path)

	dbg := debugger.New()
	dbg.StopOnEntry()
	if cmd.Bool("record") {
		dbg.StartRecording()
	}

	machine := vm.New(compiled.Program, compiled.Locals, vm.WithDebugHook(dbg))
	if _, err := machine.Run(); err != nil {
		return fmt.Errorf("debug: %w", err)
	}

	if cmd.Bool("record") {
		rec := dbg.TakeRecording()
		if savePath := cmd.String("save"); savePath != "" {
			if err := os.WriteFile(savePath, recording.Encode(rec), 0o644); err != nil {
				return fmt.Errorf("debug: write recording: %w", err)
			}
			fmt.Printf("recording written to %s (%d frames)\n", savePath, len(rec.Frames))
		}
	}
	return nil
}
