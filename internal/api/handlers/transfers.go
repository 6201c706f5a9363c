package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/silmaril/trickle/internal/transfer"
	"github.com/silmaril/trickle/pkg/types"
)

// ListTransfers returns all transfers
func (h *Handlers) ListTransfers(c *gin.Context) {
	// Filter by status if provided
	var transfers []types.TransferInfo
	switch status := c.Query("status"); status {
	case "":
		transfers = h.manager.List()
	case string(types.TransferStatusActive):
		transfers = h.manager.Active()
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown status filter %q", status),
		})
		return
	}

	c.JSON(http.StatusOK, types.TransferList{
		Transfers: transfers,
		Count:     len(transfers),
	})
}

// GetTransfer returns details about a specific transfer
func (h *Handlers) GetTransfer(c *gin.Context) {
	transferID := c.Param("id")

	info, err := h.manager.Get(transferID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, info)
}

// CancelTransfer stops an active transfer
func (h *Handlers) CancelTransfer(c *gin.Context) {
	transferID := c.Param("id")

	if err := h.manager.Cancel(transferID); err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": fmt.Sprintf("failed to cancel transfer: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "transfer cancelled",
		"transfer_id": transferID,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
