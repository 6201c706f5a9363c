package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/silmaril/trickle/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after merging defaults, the config file and
TRICKLE_* environment variables, along with the rates each profile implies.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	v := config.GetViper()
	if err := printSettings(cmd.OutOrStdout(), v.ConfigFileUsed(), v.AllSettings()); err != nil {
		return err
	}

	read, write, err := config.Get().RateConfigs()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n# read:  %s\n# write: %s\n", limitString(read), limitString(write))
	return nil
}

func printSettings(w io.Writer, file string, settings map[string]interface{}) error {
	if file == "" {
		file = "none, using defaults"
	}
	fmt.Fprintf(w, "# config file: %s\n", file)

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = w.Write(out)
	return err
}
