package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/api/client"
	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/internal/ui"
	"github.com/silmaril/trickle/pkg/types"
)

var (
	transfersAddr   string
	transfersActive bool
	transfersCancel string
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Inspect or cancel transfers on a running server",
	Long: `Lists the transfers known to a running trickle server, or cancels one.

Examples:
  trickle transfers
  trickle transfers --active
  trickle transfers --cancel 0b6f9c3e-...`,
	Args: cobra.NoArgs,
	RunE: runTransfers,
}

func init() {
	rootCmd.AddCommand(transfersCmd)
	transfersCmd.Flags().StringVar(&transfersAddr, "addr", "", "server address (default from server.listen)")
	transfersCmd.Flags().BoolVar(&transfersActive, "active", false, "only show active transfers")
	transfersCmd.Flags().StringVar(&transfersCancel, "cancel", "", "cancel the transfer with this ID")
}

func runTransfers(cmd *cobra.Command, args []string) error {
	addr := transfersAddr
	if addr == "" {
		addr = config.Get().Server.Listen
	}
	apiClient := client.NewClient(addr)

	if transfersCancel != "" {
		if err := apiClient.CancelTransfer(transfersCancel); err != nil {
			return fmt.Errorf("failed to cancel transfer: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled transfer %s\n", transfersCancel)
		return nil
	}

	transfers, err := apiClient.ListTransfers(transfersActive)
	if err != nil {
		return fmt.Errorf("failed to list transfers: %w", err)
	}
	printTransfers(cmd.OutOrStdout(), transfers, time.Now())
	return nil
}

func printTransfers(w io.Writer, transfers []types.TransferInfo, now time.Time) {
	if len(transfers) == 0 {
		fmt.Fprintln(w, "No transfers.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSOURCE\tDEST\tREAD\tWRITTEN\tELAPSED\tTHROTTLED")
	for _, t := range transfers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Kind, t.Status, t.Source, t.Destination,
			ui.FormatBytes(t.BytesRead), ui.FormatBytes(t.BytesWritten),
			ui.FormatDuration(t.Elapsed(now)),
			ui.FormatDuration(t.ReadThrottled+t.WriteThrottled))
		if t.Error != "" {
			fmt.Fprintf(tw, "\terror: %s\t\t\t\t\t\t\t\n", t.Error)
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d\n", len(transfers))
}
