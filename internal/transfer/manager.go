package transfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

var (
	ErrNotFound  = errors.New("transfer not found")
	ErrNotActive = errors.New("transfer is not active")
)

// Meter is sampled for byte counters and limits. *throttle.Stream
// satisfies it.
type Meter interface {
	Stats() (read, write throttle.DirectionStats)
	ReadConfig() (throttle.RateConfig, bool)
	WriteConfig() (throttle.RateConfig, bool)
}

type entry struct {
	info   types.TransferInfo
	meter  Meter
	closer io.Closer
}

// Manager tracks the throttled streams moving data through this process.
// Records live in memory only.
type Manager struct {
	mu        sync.RWMutex
	transfers map[string]*entry
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transfers: make(map[string]*entry),
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers an active transfer. Cancel closes closer, which is
// expected to unblock whatever goroutine drives the meter's streams.
func (m *Manager) Start(kind types.TransferKind, src, dst string, meter Meter, closer io.Closer) types.TransferInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{
		info: types.TransferInfo{
			ID:          uuid.New().String(),
			Kind:        kind,
			Status:      types.TransferStatusActive,
			Source:      src,
			Destination: dst,
			ReadLimit:   "unlimited",
			WriteLimit:  "unlimited",
			StartedAt:   m.now(),
		},
		meter:  meter,
		closer: closer,
	}
	if meter != nil {
		if cfg, ok := meter.ReadConfig(); ok {
			e.info.ReadLimit = cfg.String()
		}
		if cfg, ok := meter.WriteConfig(); ok {
			e.info.WriteLimit = cfg.String()
		}
	}

	m.transfers[e.info.ID] = e
	m.logger.Debug("transfer started",
		"id", e.info.ID,
		"kind", kind,
		"source", src,
		"destination", dst,
		"read_limit", e.info.ReadLimit,
		"write_limit", e.info.WriteLimit)

	return e.info
}

// refresh copies the meter counters into the record. Callers hold mu.
func (e *entry) refresh() {
	if e.meter == nil {
		return
	}
	r, w := e.meter.Stats()
	e.info.BytesRead = r.Bytes
	e.info.BytesWritten = w.Bytes
	e.info.ReadThrottled = r.Slept
	e.info.WriteThrottled = w.Slept
}

// Get returns the current view of a transfer, with byte counters read from
// its meter.
func (m *Manager) Get(id string) (types.TransferInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.transfers[id]
	if !exists {
		return types.TransferInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.refresh()
	return e.info, nil
}

// List returns every transfer, oldest first
func (m *Manager) List() []types.TransferInfo {
	return m.collect(func(types.TransferInfo) bool { return true })
}

// Active returns the transfers still moving data, oldest first
func (m *Manager) Active() []types.TransferInfo {
	return m.collect(func(t types.TransferInfo) bool {
		return t.Status == types.TransferStatusActive
	})
}

func (m *Manager) collect(keep func(types.TransferInfo) bool) []types.TransferInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfers := make([]types.TransferInfo, 0, len(m.transfers))
	for _, e := range m.transfers {
		e.refresh()
		if keep(e.info) {
			transfers = append(transfers, e.info)
		}
	}
	slices.SortFunc(transfers, func(a, b types.TransferInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return transfers
}

// Complete records the end of a transfer. A nil error, io.EOF or a closed
// connection count as success. Completing a cancelled transfer keeps it
// cancelled.
func (m *Manager) Complete(id string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.transfers[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.refresh()

	if e.info.Status != types.TransferStatusActive {
		return nil
	}

	now := m.now()
	e.info.CompletedAt = &now
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		e.info.Status = types.TransferStatusCompleted
	} else {
		e.info.Status = types.TransferStatusFailed
		e.info.Error = err.Error()
	}

	m.logger.Debug("transfer finished",
		"id", id,
		"status", e.info.Status,
		"bytes_read", e.info.BytesRead,
		"bytes_written", e.info.BytesWritten,
		"elapsed", now.Sub(e.info.StartedAt))
	return nil
}

// Cancel marks an active transfer cancelled and closes its closer
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.transfers[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.info.Status != types.TransferStatusActive {
		return fmt.Errorf("%w: %s is %s", ErrNotActive, id, e.info.Status)
	}

	e.refresh()
	now := m.now()
	e.info.Status = types.TransferStatusCancelled
	e.info.CompletedAt = &now

	if e.closer != nil {
		if err := e.closer.Close(); err != nil {
			m.logger.Warn("failed to close cancelled transfer", "id", id, "error", err)
		}
	}
	m.logger.Info("transfer cancelled", "id", id)
	return nil
}

// ActiveCount returns the number of active transfers
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.transfers {
		if e.info.Status == types.TransferStatusActive {
			count++
		}
	}
	return count
}

// Len returns the number of tracked transfers
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transfers)
}

// Cleanup drops finished transfers that ended more than olderThan ago and
// returns how many were removed.
func (m *Manager) Cleanup(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	removed := 0
	for id, e := range m.transfers {
		// Only clean up finished transfers
		if !e.info.Status.Done() {
			continue
		}
		if e.info.CompletedAt != nil && e.info.CompletedAt.Before(cutoff) {
			delete(m.transfers, id)
			removed++
		}
	}
	return removed
}
