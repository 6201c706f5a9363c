package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

type fakeCloser struct {
	closed int
	err    error
}

func (c *fakeCloser) Close() error {
	c.closed++
	return c.err
}

func newStream(t *testing.T, data []byte) *throttle.Stream {
	t.Helper()
	cfg, err := throttle.NewRateConfig(1<<20, time.Second, 1<<20)
	require.NoError(t, err)
	return throttle.New(throttle.Join(bytes.NewReader(data), io.Discard), throttle.WithReadLimit(cfg))
}

// newTestManager returns a manager whose clock advances one second per call
func newTestManager() *Manager {
	m := NewManager(nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return m
}

func TestManagerStart(t *testing.T) {
	m := newTestManager()
	s := newStream(t, nil)

	info := m.Start(types.TransferKindCopy, "in.bin", "out.bin", s, nil)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, types.TransferKindCopy, info.Kind)
	assert.Equal(t, types.TransferStatusActive, info.Status)
	assert.Equal(t, "in.bin", info.Source)
	assert.Equal(t, "out.bin", info.Destination)
	assert.Contains(t, info.ReadLimit, "MiB/s")
	assert.Equal(t, "unlimited", info.WriteLimit)

	// Verify it was added to manager
	retrieved, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, retrieved)
	assert.Equal(t, 1, m.Len())
}

func TestManagerGetRefreshesCounters(t *testing.T) {
	m := newTestManager()
	data := bytes.Repeat([]byte("x"), 100)
	s := newStream(t, data)

	info := m.Start(types.TransferKindCopy, "src", "dst", s, nil)
	assert.Zero(t, info.BytesRead)

	_, err := io.ReadAll(s)
	require.NoError(t, err)
	_, err = s.Write(data[:40])
	require.NoError(t, err)

	info, err = m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), info.BytesRead)
	assert.Equal(t, uint64(40), info.BytesWritten)
}

func TestManagerGetNotFound(t *testing.T) {
	m := newTestManager()

	_, err := m.Get("non-existent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Complete("non-existent", nil), ErrNotFound)
	assert.ErrorIs(t, m.Cancel("non-existent"), ErrNotFound)
}

func TestManagerListAndActive(t *testing.T) {
	m := newTestManager()

	t1 := m.Start(types.TransferKindCopy, "a", "b", nil, nil)
	t2 := m.Start(types.TransferKindRelay, "c", "d", nil, nil)
	t3 := m.Start(types.TransferKindDownload, "e", "f", nil, nil)
	require.NoError(t, m.Complete(t2.ID, nil))

	all := m.List()
	require.Len(t, all, 3)
	// Oldest first
	assert.Equal(t, t1.ID, all[0].ID)
	assert.Equal(t, t2.ID, all[1].ID)
	assert.Equal(t, t3.ID, all[2].ID)

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, t1.ID, active[0].ID)
	assert.Equal(t, t3.ID, active[1].ID)
	assert.Equal(t, 2, m.ActiveCount())
}

func TestManagerComplete(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   types.TransferStatus
		errorMsg string
	}{
		{"nil error", nil, types.TransferStatusCompleted, ""},
		{"end of data", io.EOF, types.TransferStatusCompleted, ""},
		{"closed connection", fmt.Errorf("read: %w", net.ErrClosed), types.TransferStatusCompleted, ""},
		{"timeout", &throttle.TimeoutError{Op: "read"}, types.TransferStatusFailed, "read: throttle timeout"},
		{"other error", errors.New("disk full"), types.TransferStatusFailed, "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			info := m.Start(types.TransferKindCopy, "src", "dst", nil, nil)

			require.NoError(t, m.Complete(info.ID, tt.err))

			info, err := m.Get(info.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, info.Status)
			assert.Equal(t, tt.errorMsg, info.Error)
			require.NotNil(t, info.CompletedAt)
			assert.Equal(t, time.Second, info.Elapsed(time.Time{}))
			assert.Zero(t, m.ActiveCount())
		})
	}
}

func TestManagerCancel(t *testing.T) {
	m := newTestManager()
	closer := &fakeCloser{}

	info := m.Start(types.TransferKindRelay, "src", "dst", nil, closer)

	require.NoError(t, m.Cancel(info.ID))
	assert.Equal(t, 1, closer.closed)

	info, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TransferStatusCancelled, info.Status)
	require.NotNil(t, info.CompletedAt)

	// Try to cancel already cancelled transfer
	err = m.Cancel(info.ID)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, 1, closer.closed)

	// The goroutine driving the stream reports the close error afterwards
	require.NoError(t, m.Complete(info.ID, net.ErrClosed))
	info, err = m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TransferStatusCancelled, info.Status)
}

func TestManagerCancelCloseError(t *testing.T) {
	m := newTestManager()
	closer := &fakeCloser{err: errors.New("already closed")}

	info := m.Start(types.TransferKindRelay, "src", "dst", nil, closer)

	// Close errors are logged, not returned
	require.NoError(t, m.Cancel(info.ID))
	assert.Equal(t, 1, closer.closed)
}

func TestManagerCleanup(t *testing.T) {
	m := newTestManager()

	old := m.Start(types.TransferKindCopy, "a", "b", nil, nil)
	require.NoError(t, m.Complete(old.ID, nil))
	running := m.Start(types.TransferKindCopy, "c", "d", nil, nil)

	// Clock moves forward well past the completion time
	for i := 0; i < 10; i++ {
		m.now()
	}

	recent := m.Start(types.TransferKindCopy, "e", "f", nil, nil)
	require.NoError(t, m.Complete(recent.ID, errors.New("boom")))

	removed := m.Cleanup(5 * time.Second)
	assert.Equal(t, 1, removed)

	_, err := m.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(running.ID)
	assert.NoError(t, err)
	_, err = m.Get(recent.ID)
	assert.NoError(t, err)
}
