package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/internal/storage"
)

var (
	initForce bool
	initPath  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes a configuration file holding the default settings.

The file goes to $HOME/.config/trickle/config.yaml unless --path names
another file or TRICKLE_CONFIG_DIR points elsewhere. Existing files are
kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing configuration")
	initCmd.Flags().StringVar(&initPath, "path", "", "write the configuration to this file instead")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		var err error
		path, err = storage.ConfigFile()
		if err != nil {
			return fmt.Errorf("failed to locate config directory: %w", err)
		}
	}
	path = filepath.Clean(path)

	var out io.Writer = os.Stdout
	if cmd != nil {
		out = cmd.OutOrStdout()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Fprintf(out, "  ✓ Configuration file exists: %s\n", path)
		fmt.Fprintln(out, "    Use --force to overwrite")
		return nil
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "  ✓ Created configuration file: %s\n", path)
	return nil
}
