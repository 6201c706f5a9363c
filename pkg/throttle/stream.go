package throttle

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Stream paces reads and writes on a wrapped io.ReadWriter. Each direction
// is either unlimited, in which case calls go straight to the wrapped
// stream, or limited by its own RateConfig.
//
// The read side and the write side share no state, so one goroutine may
// read while another writes, provided the wrapped stream allows it. Two
// concurrent reads (or two concurrent writes) are not supported.
type Stream struct {
	rw    io.ReadWriter
	clock clock
	read  direction
	write direction
}

// direction holds the pacing state of one side of the Stream.
type direction struct {
	limited   bool
	cfg       RateConfig
	lastCheck time.Time
	carry     uint64 // tokens granted to a raw call that moved fewer bytes
	stats     counters
}

type counters struct {
	bytes   atomic.Uint64
	calls   atomic.Uint64
	blocked atomic.Int64
	slept   atomic.Int64
}

// DirectionStats reports what one direction of a Stream has done so far.
type DirectionStats struct {
	Limited bool
	Bytes   uint64        // bytes moved by raw I/O calls
	Calls   uint64        // raw I/O calls issued
	Blocked time.Duration // time spent inside raw I/O calls
	Slept   time.Duration // time spent waiting for tokens
}

// Option configures a Stream.
type Option func(*Stream)

// WithReadLimit paces reads with cfg.
func WithReadLimit(cfg RateConfig) Option {
	return func(s *Stream) {
		s.read.limited = true
		s.read.cfg = cfg
	}
}

// WithWriteLimit paces writes with cfg.
func WithWriteLimit(cfg RateConfig) Option {
	return func(s *Stream) {
		s.write.limited = true
		s.write.cfg = cfg
	}
}

func withClock(c clock) Option {
	return func(s *Stream) {
		s.clock = c
	}
}

// New wraps rw. Directions without a limit option are unlimited.
//
// A fresh Stream behaves as if one window had already elapsed on each
// limited side, so the first call may move up to min(WindowLength,
// BucketSize) bytes right away.
func New(rw io.ReadWriter, opts ...Option) *Stream {
	s := &Stream{rw: rw, clock: realClock{}}
	for _, opt := range opts {
		opt(s)
	}
	now := s.clock.Now()
	s.read.seed(now)
	s.write.seed(now)
	return s
}

func (d *direction) seed(now time.Time) {
	if d.limited {
		d.lastCheck = now.Add(-d.cfg.windowTime)
	}
}

// Read fills p at the configured read rate. It keeps reading until p is
// full, the wrapped stream reports end of data, an error occurs, or the
// timeout fires. A timeout discards the bytes read during the call.
func (s *Stream) Read(p []byte) (int, error) {
	if !s.read.limited {
		n, err := s.rw.Read(p)
		s.read.stats.record(n, 0)
		return n, err
	}
	n, err := s.pace(&s.read, "read", p, s.rw.Read)
	if err == io.EOF {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// Write sends p at the configured write rate. A timeout discards the count
// of bytes written during the call.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.write.limited {
		n, err := s.rw.Write(p)
		s.write.stats.record(n, 0)
		return n, err
	}
	n, err := s.pace(&s.write, "write", p, s.rw.Write)
	if err == nil && n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, err
}

// pace runs the measure, sleep, transfer loop for one direction.
func (s *Stream) pace(d *direction, op string, p []byte, raw func([]byte) (int, error)) (int, error) {
	cfg := &d.cfg
	start := s.clock.Now()
	var done uint64
	left := uint64(len(p))

	for left > 0 {
		now := s.clock.Now()
		elapsed := now.Sub(start)
		if cfg.timeout > 0 && elapsed >= cfg.timeout {
			return 0, &TimeoutError{Op: op}
		}

		tokens := d.tokens(now)
		granted := min(tokens, left)
		if threshold := min(cfg.sleepThreshold, left); granted < threshold {
			wait := cfg.sleepFor(threshold - granted)
			clamped := false
			if cfg.timeout > 0 && wait > cfg.timeout-elapsed {
				wait, clamped = cfg.timeout-elapsed, true
			}
			s.clock.Sleep(wait)
			d.stats.slept.Add(int64(wait))
			if debugChecks && !clamped && tokens < cfg.bucketSize {
				if after := d.tokens(s.clock.Now()); after <= tokens {
					panic(fmt.Sprintf("throttle: %s tokens did not grow after sleeping %v: %d -> %d (%v)",
						op, wait, tokens, after, cfg))
				}
			}
			continue
		}

		// Reset before the call so that time blocked in raw I/O is never
		// charged against the next window.
		d.lastCheck = s.clock.Now()
		n, err := raw(p[done : done+granted])
		d.stats.record(n, s.clock.Now().Sub(d.lastCheck))

		moved := uint64(max(n, 0))
		d.carry = granted - min(moved, granted)
		done += moved
		left -= min(moved, left)
		if err != nil {
			d.lastCheck = s.clock.Now()
			return int(done), err
		}
		if moved == 0 {
			break
		}
	}

	d.lastCheck = s.clock.Now()
	return int(done), nil
}

// tokens returns the bytes that may be moved now: tokens accrued since the
// last check, capped at the bucket size, plus carry-over.
func (d *direction) tokens(now time.Time) uint64 {
	accrued := d.cfg.accrued(now.Sub(d.lastCheck))
	if sum := accrued + d.carry; sum >= accrued {
		return sum
	}
	return ^uint64(0)
}

// Flush flushes the wrapped stream if it supports flushing.
func (s *Stream) Flush() error {
	switch f := s.rw.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}

// Close closes the wrapped stream if it is an io.Closer.
func (s *Stream) Close() error {
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Unwrap returns the wrapped stream. The Stream must not be used afterwards.
func (s *Stream) Unwrap() io.ReadWriter {
	rw := s.rw
	s.rw = nil
	return rw
}

// Limits reports whether reads and writes are paced.
func (s *Stream) Limits() (read, write bool) {
	return s.read.limited, s.write.limited
}

// ReadConfig returns the read side config and whether reads are paced.
func (s *Stream) ReadConfig() (RateConfig, bool) { return s.read.cfg, s.read.limited }

// WriteConfig returns the write side config and whether writes are paced.
func (s *Stream) WriteConfig() (RateConfig, bool) { return s.write.cfg, s.write.limited }

// Stats returns counters for both directions. It is safe to call while the
// Stream is in use.
func (s *Stream) Stats() (read, write DirectionStats) {
	return s.read.snapshot(), s.write.snapshot()
}

func (d *direction) snapshot() DirectionStats {
	return DirectionStats{
		Limited: d.limited,
		Bytes:   d.stats.bytes.Load(),
		Calls:   d.stats.calls.Load(),
		Blocked: time.Duration(d.stats.blocked.Load()),
		Slept:   time.Duration(d.stats.slept.Load()),
	}
}

func (c *counters) record(n int, blocked time.Duration) {
	if n > 0 {
		c.bytes.Add(uint64(n))
	}
	c.calls.Add(1)
	c.blocked.Add(int64(blocked))
}

// Join combines a reader and a writer into one io.ReadWriter, for endpoints
// that are only half of a duplex stream. Flush and Close are forwarded to
// whichever side supports them.
func Join(r io.Reader, w io.Writer) io.ReadWriter {
	return &joined{Reader: r, Writer: w}
}

type joined struct {
	io.Reader
	io.Writer
}

func (j *joined) Flush() error {
	switch f := j.Writer.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}

func (j *joined) Close() error {
	var err error
	if c, ok := j.Writer.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := j.Reader.(io.Closer); ok {
		if rerr := c.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
