package throttle

import (
	"bytes"
	"crypto/sha256"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockPacing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	data := payload(500)
	cfg := mustConfig(t, 100, 100*time.Millisecond, 100)
	s := New(Join(bytes.NewReader(data), io.Discard), WithReadLimit(cfg))

	// 100 bytes from the initial window, 400 at 1000 B/s.
	start := time.Now()
	buf := make([]byte, len(data))
	n, err := s.Read(buf)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
	assert.GreaterOrEqual(t, elapsed, 390*time.Millisecond)
	assert.Less(t, elapsed, 700*time.Millisecond)
}

func TestRealClockTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	cfg := mustConfig(t, 10, 100*time.Millisecond, 10)
	cfg.SetTimeout(250 * time.Millisecond)
	s := New(Join(bytes.NewReader(payload(1000)), io.Discard), WithReadLimit(cfg))

	start := time.Now()
	n, err := s.Read(make([]byte, 1000))
	elapsed := time.Since(start)

	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestUnlimitedOverhead(t *testing.T) {
	data := payload(4 << 20)
	var out bytes.Buffer
	out.Grow(len(data))
	s := New(Join(bytes.NewReader(data), &out))

	start := time.Now()
	buf := make([]byte, len(data))
	_, err := io.ReadFull(s, buf)
	require.NoError(t, err)
	_, err = s.Write(buf)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, sha256.Sum256(data), sha256.Sum256(out.Bytes()))
}

func TestTCPBothDirections(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	data := payload(3000)
	limit := func() RateConfig { return mustConfig(t, 1000, 100*time.Millisecond, 1000) }

	writeErr := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			writeErr <- err
			return
		}
		defer conn.Close()
		s := New(conn, WithWriteLimit(limit()))
		_, err = s.Write(data)
		writeErr <- err
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	s := New(conn, WithReadLimit(limit()))
	read, write := s.Limits()
	assert.True(t, read)
	assert.False(t, write)

	start := time.Now()
	buf := make([]byte, len(data))
	_, err = io.ReadFull(s, buf)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.NoError(t, <-writeErr)

	// 1000 bytes of burst, then 2000 bytes at 10 KB/s on the writing side.
	assert.Equal(t, sha256.Sum256(data), sha256.Sum256(buf))
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	rs, _ := s.Stats()
	assert.Equal(t, uint64(len(data)), rs.Bytes)
}

func TestLimitsAndStatsDuringIO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	cfg := mustConfig(t, 100, 10*time.Millisecond, 100)
	s := New(Join(bytes.NewReader(payload(1000)), io.Discard), WithReadLimit(cfg), WithWriteLimit(cfg))

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 100)
		for {
			n, err := s.Read(buf)
			if err != nil {
				return
			}
			if _, err := s.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	for {
		read, write := s.Limits()
		assert.True(t, read)
		assert.True(t, write)
		s.Stats()
		select {
		case <-done:
			rs, ws := s.Stats()
			assert.Equal(t, uint64(1000), rs.Bytes)
			assert.Equal(t, uint64(1000), ws.Bytes)
			return
		case <-time.After(time.Millisecond):
		}
	}
}
