package ui

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps the progressbar library with our styling
type ProgressBar struct {
	bar       *progressbar.ProgressBar
	startTime time.Time
	total     int64
	current   atomic.Int64
}

// NewProgressBar creates a progress bar writing to w. A negative total
// renders a spinner for streams of unknown length.
func NewProgressBar(total int64, description string, w io.Writer) *ProgressBar {
	if w == nil {
		w = os.Stderr
	}
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	return &ProgressBar{
		bar:       bar,
		startTime: time.Now(),
		total:     total,
	}
}

// Write counts len(p) bytes of progress, so the bar can sit behind an
// io.TeeReader or io.MultiWriter.
func (p *ProgressBar) Write(b []byte) (int, error) {
	p.Add(len(b))
	return len(b), nil
}

// Add advances the bar by n bytes
func (p *ProgressBar) Add(n int) {
	p.current.Add(int64(n))
	p.bar.Add64(int64(n))
}

// Describe replaces the description shown before the bar
func (p *ProgressBar) Describe(description string) {
	p.bar.Describe(description)
}

// Current returns the bytes counted so far. The spinner shown for an
// unknown total counts frames, not bytes, so the count is kept here.
func (p *ProgressBar) Current() int64 {
	return p.current.Load()
}

// Total returns the expected byte count, negative when unknown
func (p *ProgressBar) Total() int64 {
	return p.total
}

// Elapsed returns the time since the bar was created
func (p *ProgressBar) Elapsed() time.Duration {
	return time.Since(p.startTime)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() {
	p.bar.Finish()
}

// FormatBytes formats bytes into human readable format
func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// FormatRate formats the average rate of moving bytes in elapsed
func FormatRate(bytes uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "-"
	}
	return FormatBytesPerSecond(float64(bytes) / elapsed.Seconds())
}

// FormatBytesPerSecond formats a rate, or "unlimited" for +Inf
func FormatBytesPerSecond(rate float64) string {
	if math.IsInf(rate, 1) {
		return "unlimited"
	}
	if rate < 0 || math.IsNaN(rate) {
		return "-"
	}
	return humanize.IBytes(uint64(rate)) + "/s"
}

// FormatDuration formats duration into human readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatETA estimates the time left to move bytesRemaining at bytesPerSecond
func FormatETA(bytesRemaining uint64, bytesPerSecond float64) string {
	if bytesPerSecond <= 0 || math.IsNaN(bytesPerSecond) {
		return "calculating..."
	}
	if math.IsInf(bytesPerSecond, 1) {
		return FormatDuration(0)
	}

	seconds := float64(bytesRemaining) / bytesPerSecond
	return FormatDuration(time.Duration(seconds * float64(time.Second)))
}
