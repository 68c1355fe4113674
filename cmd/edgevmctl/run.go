package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/wudi/edgevm"
	"github.com/wudi/edgevm/hostabi/ratelimit"
	"github.com/wudi/edgevm/hostabi/reqctx"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "apply a program and run it once against a synthetic request",
	ArgsUsage: "<source-file>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "method", Value: "GET", Usage: "request method"},
		&cli.StringFlag{Name: "path", Value: "/", Usage: "request path"},
		&cli.StringFlag{Name: "body", Usage: "request body"},
		&cli.StringFlag{Name: "client-id", Usage: "client identity for rate_limit_allow"},
		&cli.StringSliceFlag{Name: "header", Usage: "request header as name=value, repeatable"},
		&cli.IntFlag{Name: "rate-limit", Value: 100, Usage: "requests allowed per rate-limit-window"},
		&cli.DurationFlag{Name: "rate-limit-window", Value: time.Minute, Usage: "rate limit window"},
	},
	Action: runAction,
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("run: missing <source-file>")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	report, compiled, err := edgevm.CompileAndApply(path, string(src))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if !report.Applied {
		return fmt.Errorf("run: rejected: %s", report.Message)
	}

	headers := map[string]string{}
	for _, kv := range cmd.StringSlice("header") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("run: malformed --header %q, want name=value", kv)
		}
		headers[name] = value
	}

	reqCtx := &reqctx.RequestContext{
		Method:   cmd.String("method"),
		Path:     cmd.String("path"),
		Headers:  headers,
		Body:     cmd.String("body"),
		ClientID: cmd.String("client-id"),
	}

	binder := reqctx.NewBinder(reqctx.Limiters{
		Default: ratelimit.New(int64(cmd.Int("rate-limit")), cmd.Duration("rate-limit-window")),
	})

	outcome, err := edgevm.RunForRequest(compiled, binder, reqCtx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("status: %s\n", formatStatus(outcome.ResponseStatus))
	for name, value := range outcome.ResponseHeaders {
		fmt.Printf("header %s: %s\n", name, value)
	}
	if outcome.Upstream != nil {
		fmt.Printf("upstream: %s\n", *outcome.Upstream)
	}
	if outcome.ResponseContent != nil {
		fmt.Printf("body: %s\n", *outcome.ResponseContent)
	}
	return nil
}

func formatStatus(status *int64) string {
	if status == nil {
		return "(unset)"
	}
	return fmt.Sprintf("%d", *status)
}
