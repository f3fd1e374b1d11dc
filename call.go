package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/z3r0dayexplo1t/bridge.gg-go/bridge"
	"github.com/z3r0dayexplo1t/bridge.gg-go/config"
	"github.com/z3r0dayexplo1t/bridge.gg-go/transport"
)

type clientOptions struct {
	url     string
	timeout time.Duration
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.url, "url", "", "host websocket URL (overrides bridge.url)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "call timeout (overrides bridge.call_timeout)")
}

// connect dials the host and returns a bridge attached to the connection.
func (o *clientOptions) connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bridge.Bridge, *transport.Conn, error) {
	url := cfg.Bridge.URL
	if o.url != "" {
		url = o.url
	}
	timeout := cfg.Bridge.CallTimeout.Duration()
	if o.timeout > 0 {
		timeout = o.timeout
	}

	b := bridge.New(
		bridge.WithLogger(logger),
		bridge.WithTimeout(timeout),
		bridge.WithIDPrefix(cfg.Bridge.IDPrefix),
	)
	conn, err := transport.Dial(ctx, url, b, transport.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	b.Attach(conn)
	return b, conn, nil
}

func newCallCommand(root *rootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "call CLASS METHOD [PARAMS_JSON]",
		Short: "Call a host method and print the result",
		Example: `  bridge call System echo '{"x":1}'
  bridge call System time --url ws://localhost:8080/bridge`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			var params any
			if len(args) == 3 {
				raw := json.RawMessage(args[2])
				if !json.Valid(raw) {
					return fmt.Errorf("params %q are not valid JSON", args[2])
				}
				params = raw
			}

			ctx := cmd.Context()
			b, conn, err := opts.connect(ctx, cfg, cfg.Log.NewLogger())
			if err != nil {
				return err
			}
			defer conn.Close()

			data, err := b.Call(args[0], args[1], params).Wait(ctx)
			if err != nil {
				var ce *bridge.CallError
				if errors.As(err, &ce) && len(ce.Payload) > 0 {
					_ = printJSON(cmd.ErrOrStderr(), ce.Payload)
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	opts.register(cmd)
	return cmd
}

func newListenCommand(root *rootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "listen EVENT...",
		Short: "Print host events until interrupted",
		Long: `Subscribe to the named events and print each delivery as
"<event> <data>". The host is told the mini-app is ready first, so the
reference host pushes its params right away.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := cfg.Log.NewLogger()
			b, conn, err := opts.connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			return listen(ctx, b, conn, args, cmd.OutOrStdout(), logger)
		},
	}
	opts.register(cmd)
	return cmd
}

func listen(ctx context.Context, b *bridge.Bridge, conn *transport.Conn, events []string, out io.Writer, logger *slog.Logger) error {
	lines := make(chan string, 64)
	for _, event := range events {
		off := b.On(event, func(data json.RawMessage) error {
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			select {
			case lines <- event + " " + string(data):
			case <-ctx.Done():
			}
			return nil
		})
		defer off()
	}

	if _, err := b.NotifyReady().Wait(ctx); err != nil {
		logger.Warn("host did not acknowledge ready", "error", err)
	}

	for {
		select {
		case line := <-lines:
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		case <-conn.Done():
			return errors.New("connection closed by host")
		case <-ctx.Done():
			return nil
		}
	}
}

func printJSON(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	_, err := fmt.Fprintln(w, string(data))
	return err
}
