package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/internal/daemon"
)

var (
	serveRates    rateFlags
	serveListen   string
	serveRoot     string
	serveUpstream string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve files over HTTP at a limited rate",
	Long: `Runs the trickle server in the foreground.

The server will:
- Serve files under the root directory at /files/<path>, paced by the
  read and write profiles
- Report status and transfers under /api/v1
- Run the TCP relay as well when an upstream is configured

Examples:
  trickle serve --root ./public --write-rate 512KiB
  trickle serve --upstream 127.0.0.1:6379 --write-rate 64KiB`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addRateFlags(serveCmd, &serveRates)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "API address (default from server.listen)")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "directory to serve files from (default from server.root)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "also relay TCP connections to this address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := *config.Get()

	cfg.Read = serveRates.apply(cmd, cfg.Read, "read-rate")
	cfg.Write = serveRates.apply(cmd, cfg.Write, "write-rate")
	read, write, err := cfg.RateConfigs()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = serveListen
	}
	if cmd.Flags().Changed("root") {
		cfg.Server.Root = serveRoot
	}
	if cmd.Flags().Changed("upstream") {
		cfg.Relay.Upstream = serveUpstream
	}

	d, err := daemon.New(&cfg, version, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := d.Listen(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s on http://%s (read %s, write %s)\n",
		cfg.Server.Root, d.Addr(), limitString(read), limitString(write))
	if addr := d.RelayAddr(); addr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Relaying %s to %s\n", addr, cfg.Relay.Upstream)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
