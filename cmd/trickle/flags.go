package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/pkg/throttle"
)

// rateFlags override the configured read and write profiles for a single
// command. Shape flags apply to both directions.
type rateFlags struct {
	readRate  string
	writeRate string
	window    time.Duration
	bucket    string
	minOp     string
	timeout   time.Duration
}

func addRateFlags(cmd *cobra.Command, f *rateFlags) {
	cmd.Flags().StringVar(&f.readRate, "read-rate", "", "bytes allowed per window on the read side (e.g. 512KiB, 0 for unlimited)")
	cmd.Flags().StringVar(&f.writeRate, "write-rate", "", "bytes allowed per window on the write side (e.g. 1MB, 0 for unlimited)")
	cmd.Flags().DurationVar(&f.window, "window", 0, "window duration (default 1s)")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "burst capacity (default: the window rate)")
	cmd.Flags().StringVar(&f.minOp, "min-op", "", "smallest I/O issued while paced")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "give up on a single read or write after this long (0 waits forever)")
}

func (f *rateFlags) apply(cmd *cobra.Command, p config.RateProfile, rateFlag string) config.RateProfile {
	flags := cmd.Flags()
	if flags.Changed(rateFlag) {
		if rateFlag == "read-rate" {
			p.WindowLength = f.readRate
		} else {
			p.WindowLength = f.writeRate
		}
	}
	if flags.Changed("window") {
		p.WindowTime = f.window
	}
	if flags.Changed("bucket") {
		p.BucketSize = f.bucket
	}
	if flags.Changed("min-op") {
		p.MinOperationSize = f.minOp
	}
	if flags.Changed("timeout") {
		p.Timeout = f.timeout
	}
	return p
}

// rateConfigs merges the flags over cfg and converts the result.
func (f *rateFlags) rateConfigs(cmd *cobra.Command, cfg *config.Config) (read, write *throttle.RateConfig, err error) {
	merged := *cfg
	merged.Read = f.apply(cmd, cfg.Read, "read-rate")
	merged.Write = f.apply(cmd, cfg.Write, "write-rate")
	return merged.RateConfigs()
}

// effectiveLimit describes the end-to-end rate of a transfer paced by read
// and write.
func effectiveLimit(read, write *throttle.RateConfig) string {
	switch {
	case read != nil && write != nil:
		return read.Intersect(*write).String()
	case read != nil:
		return read.String()
	case write != nil:
		return write.String()
	}
	return "unlimited"
}

func streamOptions(read, write *throttle.RateConfig) []throttle.Option {
	var opts []throttle.Option
	if read != nil {
		opts = append(opts, throttle.WithReadLimit(*read))
	}
	if write != nil {
		opts = append(opts, throttle.WithWriteLimit(*write))
	}
	return opts
}

func limitString(cfg *throttle.RateConfig) string {
	if cfg == nil {
		return "unlimited"
	}
	return cfg.String()
}
