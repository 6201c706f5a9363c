package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/internal/relay"
)

var (
	relayRates    rateFlags
	relayListen   string
	relayUpstream string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward TCP connections to an upstream at a limited rate",
	Long: `Accepts TCP connections and pipes each one to the upstream address.

Bytes sent upstream are paced by the read profile and bytes sent back to
clients by the write profile. Each connection is paced on its own.

Examples:
  trickle relay --upstream db.internal:5432 --write-rate 256KiB
  trickle relay --listen :9000 --upstream 10.0.0.5:80 --read-rate 64KiB`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	addRateFlags(relayCmd, &relayRates)
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "address to accept connections on (default from relay.listen)")
	relayCmd.Flags().StringVar(&relayUpstream, "upstream", "", "address to forward connections to (default from relay.upstream)")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	read, write, err := relayRates.rateConfigs(cmd, cfg)
	if err != nil {
		return err
	}

	rc := relay.Config{
		Listen:      cfg.Relay.Listen,
		Upstream:    cfg.Relay.Upstream,
		Upload:      read,
		Download:    write,
		AcceptRate:  cfg.Relay.AcceptRate,
		AcceptBurst: cfg.Relay.AcceptBurst,
		DialTimeout: cfg.Relay.DialTimeout,
	}
	if cmd.Flags().Changed("listen") {
		rc.Listen = relayListen
	}
	if cmd.Flags().Changed("upstream") {
		rc.Upstream = relayUpstream
	}
	if rc.Upstream == "" {
		return fmt.Errorf("no upstream configured: pass --upstream or set relay.upstream")
	}

	r, err := relay.New(rc, nil, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Serve(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Relay stopped")
	return nil
}
