package handlers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/silmaril/trickle/internal/storage"
	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

type cancelCloser context.CancelFunc

func (c cancelCloser) Close() error {
	c()
	return nil
}

// ServeFile streams a file below the served root. Reads from disk follow
// the read limit, writes to the client the write limit.
func (h *Handlers) ServeFile(c *gin.Context) {
	rel := c.Param("path")

	full, info, err := storage.ResolveServed(h.root, rel)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("file %s not found", rel)})
		case errors.Is(err, storage.ErrIsDirectory):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to resolve file", "path", rel, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve file"})
		}
		return
	}

	f, err := os.Open(full)
	if err != nil {
		h.logger.Error("failed to open file", "path", full, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open file"})
		return
	}
	defer f.Close()

	var opts []throttle.Option
	if h.read != nil {
		opts = append(opts, throttle.WithReadLimit(*h.read))
	}
	if h.write != nil {
		opts = append(opts, throttle.WithWriteLimit(*h.write))
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(full)))
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s := throttle.New(throttle.Join(f, c.Writer), opts...)
	t := h.manager.Start(types.TransferKindDownload, rel, c.ClientIP(), s, cancelCloser(cancel))

	_, err = throttle.Copy(ctx, s, throttle.ChunkSize(h.read, h.write))
	if cerr := h.manager.Complete(t.ID, err); cerr != nil {
		h.logger.Error("failed to complete transfer", "id", t.ID, "error", cerr)
	}
	if err != nil {
		// Headers are already sent, the body is cut short.
		h.logger.Warn("download ended early", "id", t.ID, "path", rel, "error", err)
	}
}
