package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080/")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.NotNil(t, client.httpClient)

	// Bare host:port gets a scheme
	client = NewClient("127.0.0.1:8737")
	assert.Equal(t, "http://127.0.0.1:8737", client.baseURL)
}

func TestClientHealth(t *testing.T) {
	// Create test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Equal(t, "GET", r.Method)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"time":   1704067200,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Health()
	assert.NoError(t, err)
}

func TestClientHealthError(t *testing.T) {
	// Create test server that returns error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Health()
	assert.Error(t, err)
}

func TestClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		assert.Equal(t, "GET", r.Method)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(types.Status{
			Version:         "1.0.0",
			Uptime:          "1m 30s",
			ActiveTransfers: 5,
			Write:           types.Limits{Limited: true, Rate: "1.0 KiB/s"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Equal(t, 5, status.ActiveTransfers)
	assert.True(t, status.Write.Limited)
}

func TestClientListTransfers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "GET", r.Method)

		transfers := []types.TransferInfo{
			{ID: "t1", Kind: types.TransferKindRelay, Status: types.TransferStatusActive},
		}
		if r.URL.Query().Get("status") == "" {
			transfers = append(transfers, types.TransferInfo{ID: "t2", Status: types.TransferStatusCompleted})
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(types.TransferList{Transfers: transfers, Count: len(transfers)})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	transfers, err := client.ListTransfers(false)
	require.NoError(t, err)
	assert.Len(t, transfers, 2)

	transfers, err = client.ListTransfers(true)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "t1", transfers[0].ID)
	assert.Equal(t, types.TransferKindRelay, transfers[0].Kind)
}

func TestClientGetTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers/t1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "transfer not found"})
			return
		}
		json.NewEncoder(w).Encode(types.TransferInfo{ID: "t1", BytesRead: 42})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	info, err := client.GetTransfer("t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.BytesRead)

	_, err = client.GetTransfer("t2")
	assert.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "transfer not found", apiErr.Message)
}

func TestClientCancelTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		switch r.URL.Path {
		case "/api/v1/transfers/t1":
			json.NewEncoder(w).Encode(map[string]string{"message": "transfer cancelled"})
		default:
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "transfer is not active"})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	assert.NoError(t, client.CancelTransfer("t1"))

	err := client.CancelTransfer("t2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not active")
}

func TestClientDownload(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/dir/my file.bin" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "file not found"})
			return
		}
		w.Write(data)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	var out bytes.Buffer
	n, err := client.Download(context.Background(), "/dir/my file.bin", &out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())

	_, err = client.Download(context.Background(), "missing", io.Discard)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientDownloadPaced(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	data := bytes.Repeat([]byte("0123456789"), 300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer server.Close()

	cfg, err := throttle.NewRateConfig(1000, 100*time.Millisecond, 1000)
	require.NoError(t, err)

	client := NewClient(server.URL)
	var out bytes.Buffer
	start := time.Now()
	n, err := client.Download(context.Background(), "data.bin", &out, throttle.WithWriteLimit(cfg))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestClientDownloadCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL)
	_, err := client.Download(ctx, "data.bin", io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}
