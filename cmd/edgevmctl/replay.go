package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/wudi/edgevm/recording"
)

var replayCommand = &cli.Command{
	Name:      "replay",
	Usage:     "step through a recorded session offline",
	ArgsUsage: "<recording-file>",
	Action:    replayAction,
}

func replayAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("replay: missing <recording-file>")
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	rec, err := recording.Decode(blob)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	fmt.Printf("loaded recording %s (%d frames)\n", rec.ID, len(rec.Frames))

	player := recording.NewReplay(rec, nil)
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return replayInteractive(player)
	}
	return replayPiped(player)
}

func replayInteractive(player *recording.Replay) error {
	rl, err := readline.New("(replay) ")
	if err != nil {
		return replayPiped(player)
	}
	defer rl.Close()
	for !player.Done() {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		player.Command(line, os.Stdout)
	}
	return nil
}

func replayPiped(player *recording.Replay) error {
	scanner := bufio.NewScanner(os.Stdin)
	for !player.Done() {
		fmt.Print("(replay) ")
		if !scanner.Scan() {
			return nil
		}
		player.Command(scanner.Text(), os.Stdout)
	}
	return nil
}
