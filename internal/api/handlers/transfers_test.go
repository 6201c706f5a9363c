package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silmaril/trickle/pkg/types"
)

type nopCloser struct{ closed bool }

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

func TestListTransfers(t *testing.T) {
	h := setupTestHandlers(t, Options{})

	// Create test router
	router := gin.New()
	router.GET("/transfers", h.ListTransfers)

	// Create request
	req, _ := http.NewRequest("GET", "/transfers", nil)
	w := httptest.NewRecorder()

	// Execute request
	router.ServeHTTP(w, req)

	// Check response
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Contains(t, response, "transfers")
	assert.Contains(t, response, "count")

	// Initially should be empty
	transfers, ok := response["transfers"].([]interface{})
	assert.True(t, ok)
	assert.NotNil(t, transfers)
	assert.Equal(t, float64(0), response["count"])
}

func TestListTransfersWithStatus(t *testing.T) {
	h := setupTestHandlers(t, Options{})
	m := h.Manager()
	active := m.Start(types.TransferKindRelay, "a", "b", nil, nil)
	done := m.Start(types.TransferKindCopy, "c", "d", nil, nil)
	require.NoError(t, m.Complete(done.ID, nil))

	router := gin.New()
	router.GET("/transfers", h.ListTransfers)

	// All transfers
	req, _ := http.NewRequest("GET", "/transfers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var list types.TransferList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	// Active only
	req, _ = http.NewRequest("GET", "/transfers?status=active", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, active.ID, list.Transfers[0].ID)

	// Unknown filter
	req, _ = http.NewRequest("GET", "/transfers?status=paused", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransfer(t *testing.T) {
	h := setupTestHandlers(t, Options{})

	// Create a transfer first
	transfer := h.Manager().Start(types.TransferKindDownload, "model.bin", "127.0.0.1", nil, nil)

	// Create test router
	router := gin.New()
	router.GET("/transfers/:id", h.GetTransfer)

	// Create request
	req, _ := http.NewRequest("GET", "/transfers/"+transfer.ID, nil)
	w := httptest.NewRecorder()

	// Execute request
	router.ServeHTTP(w, req)

	// Check response
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, transfer.ID, response["id"])
	assert.Equal(t, "download", response["kind"])
	assert.Equal(t, "active", response["status"])
}

func TestGetTransferNotFound(t *testing.T) {
	h := setupTestHandlers(t, Options{})

	// Create test router
	router := gin.New()
	router.GET("/transfers/:id", h.GetTransfer)

	// Create request for non-existent transfer
	nonExistentID := uuid.New().String()
	req, _ := http.NewRequest("GET", "/transfers/"+nonExistentID, nil)
	w := httptest.NewRecorder()

	// Execute request
	router.ServeHTTP(w, req)

	// Check response
	assert.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Contains(t, response["error"], "not found")
}

func TestCancelTransfer(t *testing.T) {
	h := setupTestHandlers(t, Options{})
	closer := &nopCloser{}
	transfer := h.Manager().Start(types.TransferKindRelay, "a", "b", nil, closer)

	router := gin.New()
	router.DELETE("/transfers/:id", h.CancelTransfer)

	req, _ := http.NewRequest("DELETE", "/transfers/"+transfer.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, closer.closed)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "transfer cancelled", response["message"])
	assert.Equal(t, transfer.ID, response["transfer_id"])

	// Cancelling twice conflicts
	req, _ = http.NewRequest("DELETE", "/transfers/"+transfer.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown transfer
	req, _ = http.NewRequest("DELETE", "/transfers/"+uuid.New().String(), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
