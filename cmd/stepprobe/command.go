package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/stepprobe/internal/config"
	"github.com/srg/stepprobe/internal/probe"
	"github.com/srg/stepprobe/internal/session"
)

func newCommandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command <reset|toggle-direction|divider N>",
		Short: "Send one command to the probe",
		Long: fmt.Sprintf(`Send a single one-way command to the probe.

  reset             clear the probe's accumulated data
  toggle-direction  flip the step direction sign
  divider N         set the capture divider (1, 2, 5, 10, 20)

Opcodes follow the opcodes section of the config file.

Examples:
  stepprobe command reset --device STP-0123456789AB
  stepprobe command divider 10

%s`, deviceNote),
		Args: cobra.RangeArgs(1, 2),
		RunE: runCommand,
	}
	config.RegisterConnectionFlags(cmd.Flags())
	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	send, name, err := parseCommand(args)
	if err != nil {
		return err
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	_, err = session.Inspect(ctx, cfg, logger, nil, func(s *session.Session) (struct{}, error) {
		return struct{}{}, send(ctx, s.Probe.Commands)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", name)
	return nil
}

// commandFunc sends one command over the channel.
type commandFunc func(ctx context.Context, c *probe.CommandChannel) error

// parseCommand validates args before any connection is made.
func parseCommand(args []string) (commandFunc, string, error) {
	switch args[0] {
	case "reset":
		if len(args) != 1 {
			return nil, "", fmt.Errorf("reset takes no arguments")
		}
		return func(ctx context.Context, c *probe.CommandChannel) error { return c.ResetData(ctx) }, "reset", nil
	case "toggle-direction":
		if len(args) != 1 {
			return nil, "", fmt.Errorf("toggle-direction takes no arguments")
		}
		return func(ctx context.Context, c *probe.CommandChannel) error { return c.ToggleDirection(ctx) }, "toggle-direction", nil
	case "divider":
		if len(args) != 2 {
			return nil, "", fmt.Errorf("divider requires a value (1, 2, 5, 10, 20)")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || !probe.ValidDivider(n) {
			return nil, "", fmt.Errorf("%w: %s", probe.ErrInvalidDivider, args[1])
		}
		send := func(ctx context.Context, c *probe.CommandChannel) error {
			return c.SetCaptureDivider(ctx, n)
		}
		return send, fmt.Sprintf("divider %d", n), nil
	default:
		return nil, "", fmt.Errorf("unknown command %q (must be reset, toggle-direction, or divider)", args[0])
	}
}
