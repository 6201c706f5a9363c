package types

import (
	"time"
)

// TransferKind says what kind of stream a transfer paces
type TransferKind string

const (
	TransferKindCopy     TransferKind = "copy"
	TransferKindRelay    TransferKind = "relay"
	TransferKindDownload TransferKind = "download"
)

// TransferStatus is the lifecycle state of a transfer
type TransferStatus string

const (
	TransferStatusActive    TransferStatus = "active"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
	TransferStatusCancelled TransferStatus = "cancelled"
)

// Done reports whether the status is terminal
func (s TransferStatus) Done() bool {
	return s == TransferStatusCompleted || s == TransferStatusFailed || s == TransferStatusCancelled
}

// TransferInfo is a point-in-time view of one throttled transfer
type TransferInfo struct {
	ID           string         `json:"id"`
	Kind         TransferKind   `json:"kind"`
	Status       TransferStatus `json:"status"`
	Source       string         `json:"source"`
	Destination  string         `json:"destination"`
	BytesRead    uint64         `json:"bytes_read"`
	BytesWritten uint64         `json:"bytes_written"`
	ReadLimit    string         `json:"read_limit"`
	WriteLimit   string         `json:"write_limit"`

	// Time spent sleeping for tokens, per direction
	ReadThrottled  time.Duration `json:"read_throttled"`
	WriteThrottled time.Duration `json:"write_throttled"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Elapsed returns how long the transfer ran, or has been running as of now
func (t TransferInfo) Elapsed(now time.Time) time.Duration {
	end := now
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	if end.Before(t.StartedAt) {
		return 0
	}
	return end.Sub(t.StartedAt)
}

// TransferList is the body of GET /api/v1/transfers
type TransferList struct {
	Transfers []TransferInfo `json:"transfers"`
	Count     int            `json:"count"`
}

// Limits describes the pacing configured for one direction
type Limits struct {
	Limited        bool    `json:"limited"`
	Rate           string  `json:"rate"`
	BytesPerSecond float64 `json:"bytes_per_second,omitempty"`
	BucketSize     uint64  `json:"bucket_size,omitempty"`
	Timeout        string  `json:"timeout,omitempty"`
}

// Status is the body of GET /api/v1/status
type Status struct {
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	Uptime          string    `json:"uptime"`
	ActiveTransfers int       `json:"active_transfers"`
	TotalTransfers  int       `json:"total_transfers"`
	Read            Limits    `json:"read"`
	Write           Limits    `json:"write"`
	Root            string    `json:"root"`
	RelayUpstream   string    `json:"relay_upstream,omitempty"`
}
