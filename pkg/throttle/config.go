package throttle

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/dustin/go-humanize"
)

// RateConfig describes the pace of one direction of a Stream: WindowLength
// bytes every WindowTime, with up to BucketSize bytes banked for bursts.
//
// A RateConfig is built by NewRateConfig, optionally adjusted with its
// setters, and then handed to New. The Stream keeps its own copy.
type RateConfig struct {
	windowLength uint64
	windowTime   time.Duration
	bucketSize   uint64
	timeout      time.Duration
	minOpSize    uint64

	perByteSleep   time.Duration
	windowTimeNs   uint64
	capLimit       uint64
	sleepThreshold uint64
}

// NewRateConfig builds a RateConfig allowing windowLength bytes per
// windowTime, with a burst capacity of bucketSize bytes. A zero windowTime
// means the direction is never paced.
func NewRateConfig(windowLength uint64, windowTime time.Duration, bucketSize uint64) (RateConfig, error) {
	if windowTime < 0 {
		return RateConfig{}, fmt.Errorf("window time %v %w: must not be negative", windowTime, ErrInvalidConfig)
	}
	if bucketSize == 0 {
		return RateConfig{}, fmt.Errorf("bucket size %w: must be greater than zero", ErrInvalidConfig)
	}
	if windowLength == 0 && windowTime > 0 {
		return RateConfig{}, fmt.Errorf("window length %w: must be greater than zero", ErrInvalidConfig)
	}

	// Duration only divides by int64, so the per-byte cost is computed on a
	// pair scaled down to 32 bits. The ratio is preserved.
	wlen, wtime := windowLength, windowTime
	for wlen > math.MaxUint32 {
		wlen /= 2
		wtime /= 2
	}
	var perByte time.Duration
	if wlen > 0 {
		perByte = wtime / time.Duration(wlen)
	}

	// time.Duration is an int64 nanosecond count, so windowTime always fits
	// in the uint64 used by the accrual arithmetic.
	capLimit := min(windowLength, bucketSize)
	return RateConfig{
		windowLength:   windowLength,
		windowTime:     windowTime,
		bucketSize:     bucketSize,
		minOpSize:      1,
		perByteSleep:   perByte,
		windowTimeNs:   uint64(windowTime),
		capLimit:       capLimit,
		sleepThreshold: capLimit,
	}, nil
}

// SetMinOperationSize makes the Stream wait until at least v tokens are
// available before issuing a raw I/O call, except for a final remainder
// smaller than v. It trades latency for fewer, larger system calls.
func (c *RateConfig) SetMinOperationSize(v uint64) error {
	if v == 0 {
		return fmt.Errorf("min operation size %w: must be greater than zero", ErrInvalidConfig)
	}
	if v > c.bucketSize {
		return fmt.Errorf("min operation size %d %w: exceeds bucket size %d", v, ErrInvalidConfig, c.bucketSize)
	}
	c.minOpSize = v
	c.sleepThreshold = max(c.sleepThreshold, v)
	return nil
}

// SetTimeout bounds the duration of every Read or Write call paced by this
// config. Zero disables the deadline.
func (c *RateConfig) SetTimeout(d time.Duration) {
	c.timeout = max(d, 0)
}

// Intersect returns whichever of c and other sustains the lower rate,
// min(WindowLength, BucketSize) per WindowTime. It predicts the end-to-end
// rate of a transfer paced at both ends. Ties return c.
func (c RateConfig) Intersect(other RateConfig) RateConfig {
	switch {
	case other.Unlimited():
		return c
	case c.Unlimited():
		return other
	}
	// c.capLimit/c.windowTimeNs <= other.capLimit/other.windowTimeNs,
	// cross-multiplied in 128 bits.
	aHi, aLo := bits.Mul64(c.capLimit, other.windowTimeNs)
	bHi, bLo := bits.Mul64(other.capLimit, c.windowTimeNs)
	if aHi < bHi || (aHi == bHi && aLo <= bLo) {
		return c
	}
	return other
}

// WindowLength returns the number of bytes allowed per window.
func (c RateConfig) WindowLength() uint64 { return c.windowLength }

// WindowTime returns the window duration.
func (c RateConfig) WindowTime() time.Duration { return c.windowTime }

// BucketSize returns the burst capacity in bytes.
func (c RateConfig) BucketSize() uint64 { return c.bucketSize }

// Timeout returns the per-call deadline, zero if none.
func (c RateConfig) Timeout() time.Duration { return c.timeout }

// MinOperationSize returns the smallest raw I/O the Stream issues.
func (c RateConfig) MinOperationSize() uint64 { return c.minOpSize }

// PerByteSleep returns the time needed to accrue one byte.
func (c RateConfig) PerByteSleep() time.Duration { return c.perByteSleep }

// CapLimit returns min(WindowLength, BucketSize), the most a single window
// can deliver.
func (c RateConfig) CapLimit() uint64 { return c.capLimit }

// SleepThreshold returns the token count below which the Stream sleeps
// instead of issuing a raw I/O call.
func (c RateConfig) SleepThreshold() uint64 { return c.sleepThreshold }

// Unlimited reports whether the config never paces, which is the case for a
// zero window time.
func (c RateConfig) Unlimited() bool { return c.windowTimeNs == 0 }

// BytesPerSecond returns the sustained rate implied by the config, or +Inf
// when unlimited.
func (c RateConfig) BytesPerSecond() float64 {
	if c.Unlimited() {
		return math.Inf(1)
	}
	return float64(c.capLimit) / c.windowTime.Seconds()
}

func (c RateConfig) String() string {
	if c.Unlimited() {
		return "unlimited"
	}
	s := fmt.Sprintf("%s/s (%s per %v, bucket %s)",
		humanize.IBytes(uint64(c.BytesPerSecond())),
		humanize.IBytes(c.windowLength), c.windowTime, humanize.IBytes(c.bucketSize))
	if c.timeout > 0 {
		s += fmt.Sprintf(", timeout %v", c.timeout)
	}
	return s
}

// accrued converts elapsed into tokens, capped at the bucket size.
func (c RateConfig) accrued(elapsed time.Duration) uint64 {
	if c.windowTimeNs == 0 {
		return math.MaxUint64
	}
	if elapsed <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(elapsed), c.windowLength)
	if hi >= c.windowTimeNs {
		return c.bucketSize
	}
	n, _ := bits.Div64(hi, lo, c.windowTimeNs)
	return min(n, c.bucketSize)
}

// sleepFor returns how long it takes to accrue need more tokens, rounded up
// to the next nanosecond so a sleep never falls short because of truncation.
func (c RateConfig) sleepFor(need uint64) time.Duration {
	if c.windowLength == 0 || need == 0 {
		return 0
	}
	hi, lo := bits.Mul64(need, c.windowTimeNs)
	if hi >= c.windowLength {
		return time.Duration(math.MaxInt64)
	}
	q, r := bits.Div64(hi, lo, c.windowLength)
	if r != 0 {
		q++
	}
	if q > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(q)
}
