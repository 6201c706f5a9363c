package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/internal/ui"
	"github.com/silmaril/trickle/pkg/throttle"
)

var (
	copyRates    rateFlags
	copyProgress bool
)

var copyCmd = &cobra.Command{
	Use:   "copy SOURCE DEST",
	Short: "Copy a file or pipe at a limited rate",
	Long: `Copies SOURCE to DEST through a throttled stream. Use - for stdin or stdout.

The read side is paced by the read profile and the write side by the write
profile. Flags override the configured profiles for this copy only.

Examples:
  trickle copy --write-rate 1MiB big.iso /mnt/usb/big.iso
  tar c dir | trickle copy --read-rate 256KiB - backup.tar`,
	Args: cobra.ExactArgs(2),
	RunE: runCopy,
}

func init() {
	rootCmd.AddCommand(copyCmd)
	addRateFlags(copyCmd, &copyRates)
	copyCmd.Flags().BoolVar(&copyProgress, "progress", true, "show a progress bar (default from ui.progress_bar)")
}

// copyResult summarizes a finished copy
type copyResult struct {
	bytes   int64
	elapsed time.Duration
	read    throttle.DirectionStats
	write   throttle.DirectionStats
}

func runCopy(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	read, write, err := copyRates.rateConfigs(cmd, cfg)
	if err != nil {
		return err
	}

	src, size, err := openSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := openDest(args[1], cmd.OutOrStdout())
	if err != nil {
		return err
	}

	showProgress := cfg.UI.ProgressBar
	if cmd.Flags().Changed("progress") {
		showProgress = copyProgress
	}
	var progress io.Writer
	if showProgress {
		progress = cmd.ErrOrStderr()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := copyStream(ctx, src, dst, size, read, write, progress)
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", args[1], cerr)
	}
	if err != nil {
		return fmt.Errorf("copy failed after %s: %w", ui.FormatBytes(uint64(res.bytes)), err)
	}

	printCopySummary(cmd.ErrOrStderr(), res, read, write)
	return nil
}

// copyStream pumps src into dst through a throttle.Stream. A non-nil
// progress writer gets a progress bar sized by size, or a spinner when
// size is negative.
func copyStream(ctx context.Context, src io.Reader, dst io.Writer, size int64, read, write *throttle.RateConfig, progress io.Writer) (copyResult, error) {
	w := dst
	var bar *ui.ProgressBar
	if progress != nil {
		bar = ui.NewProgressBar(size, "Copying", progress)
		w = io.MultiWriter(dst, bar)
	}

	s := throttle.New(throttle.Join(src, w), streamOptions(read, write)...)
	start := time.Now()

	var wg sync.WaitGroup
	done := make(chan struct{})
	if bar != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			describeLoop(done, bar, s)
		}()
	}

	n, err := throttle.Copy(ctx, s, throttle.ChunkSize(read, write))
	close(done)
	wg.Wait()
	if bar != nil && err == nil {
		bar.Finish()
	}

	res := copyResult{bytes: n, elapsed: time.Since(start)}
	res.read, res.write = s.Stats()
	return res, err
}

// describeInterval is how often the progress description is refreshed
var describeInterval = 500 * time.Millisecond

// describeLoop refreshes the bar's description from the stream's
// counters until done is closed.
func describeLoop(done <-chan struct{}, bar *ui.ProgressBar, s *throttle.Stream) {
	ticker := time.NewTicker(describeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			read, write := s.Stats()
			bar.Describe(describeProgress(bar.Current(), bar.Total(), bar.Elapsed(), read.Slept+write.Slept))
		}
	}
}

// describeProgress builds the text shown before the copy progress bar.
// The ETA is left out when the total is unknown.
func describeProgress(done, total int64, elapsed, throttled time.Duration) string {
	desc := "Copying"
	if total > 0 && done < total {
		rate := 0.0
		if elapsed > 0 {
			rate = float64(done) / elapsed.Seconds()
		}
		desc += ", ETA " + ui.FormatETA(uint64(total-done), rate)
	}
	if throttled > 0 {
		desc += ", throttled " + ui.FormatDuration(throttled)
	}
	return desc
}

func printCopySummary(w io.Writer, res copyResult, read, write *throttle.RateConfig) {
	fmt.Fprintf(w, "Copied %s in %s (%s)\n",
		ui.FormatBytes(uint64(res.bytes)), ui.FormatDuration(res.elapsed),
		ui.FormatRate(uint64(res.bytes), res.elapsed))
	printDirection(w, "read", res.read, read)
	printDirection(w, "write", res.write, write)
	if read != nil || write != nil {
		fmt.Fprintf(w, "  effective limit: %s\n", effectiveLimit(read, write))
	}
}

func printDirection(w io.Writer, name string, st throttle.DirectionStats, cfg *throttle.RateConfig) {
	if cfg == nil {
		fmt.Fprintf(w, "  %-6s unlimited, %d calls\n", name+":", st.Calls)
		return
	}
	fmt.Fprintf(w, "  %-6s %s, %d calls, throttled %s\n",
		name+":", cfg.String(), st.Calls, ui.FormatDuration(st.Slept))
}

func openSource(path string, stdin io.Reader) (io.ReadCloser, int64, error) {
	if path == "-" {
		return io.NopCloser(stdin), -1, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("source %s is a directory", path)
	}
	return f, info.Size(), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openDest(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	return f, nil
}
