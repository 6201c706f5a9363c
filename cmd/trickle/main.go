package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/config"
)

var version = "dev"

var (
	cfgFile string
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "trickle",
		Short: "Token bucket bandwidth throttling for streams",
		Long: `Trickle paces byte streams with a token bucket so transfers stay under a
configured bandwidth without starving small requests.

Key Commands:
  copy       - Copy a file or pipe at a limited rate
  relay      - Forward TCP connections to an upstream at a limited rate
  serve      - Serve files over HTTP at a limited rate, with an optional relay
  transfers  - Inspect or cancel transfers on a running server
  init       - Write a default configuration file
  config     - Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/trickle/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose output")
	rootCmd.Version = version
}

func initConfig() {
	if err := config.Initialize(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()
	if verbose {
		cfg.UI.Verbose = true
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.UI.OutputFormat, cfg.UI.Verbose))
}

// newLogger builds the process logger. format is "text" or "json".
func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
