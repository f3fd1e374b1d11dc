// Command bridge runs the reference host and talks to it as a mini-app.
//
// Usage:
//
//	bridge serve -c bridge.yaml                  # serve the host
//	bridge call System echo '{"x":1}'            # call a host method
//	bridge listen paramsUpdated                  # print pushed events
//	bridge version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/z3r0dayexplo1t/bridge.gg-go/bridge"
	"github.com/z3r0dayexplo1t/bridge.gg-go/config"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Mini-app to host call and event bridge",
		Long: `bridge lets a sandboxed mini-app call methods on its host and receive
host events over a string-only message channel, here a websocket.

"serve" runs a reference host; "call" and "listen" act as the mini-app.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bridge %s (commit %s, protocol %s)\n", version, commit, bridge.Version)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
