package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/silmaril/trickle/internal/transfer"
	"github.com/silmaril/trickle/internal/ui"
	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

// Options configures Handlers. Nil rate configs leave that side of served
// downloads unlimited.
type Options struct {
	Manager       *transfer.Manager
	Root          string
	Read          *throttle.RateConfig
	Write         *throttle.RateConfig
	Version       string
	RelayUpstream string
	Logger        *slog.Logger
}

type Handlers struct {
	manager       *transfer.Manager
	root          string
	read          *throttle.RateConfig
	write         *throttle.RateConfig
	version       string
	relayUpstream string
	startedAt     time.Time
	logger        *slog.Logger
}

func NewHandlers(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manager := opts.Manager
	if manager == nil {
		manager = transfer.NewManager(logger)
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Handlers{
		manager:       manager,
		root:          opts.Root,
		read:          opts.Read,
		write:         opts.Write,
		version:       version,
		relayUpstream: opts.RelayUpstream,
		startedAt:     time.Now(),
		logger:        logger.With("component", "api"),
	}
}

// Manager returns the transfer manager served by these handlers
func (h *Handlers) Manager() *transfer.Manager {
	return h.manager
}

// Health endpoint for health checks
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Status returns server status information
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, types.Status{
		Version:         h.version,
		StartedAt:       h.startedAt,
		Uptime:          ui.FormatDuration(time.Since(h.startedAt)),
		ActiveTransfers: h.manager.ActiveCount(),
		TotalTransfers:  h.manager.Len(),
		Read:            limitsOf(h.read),
		Write:           limitsOf(h.write),
		Root:            h.root,
		RelayUpstream:   h.relayUpstream,
	})
}

func limitsOf(cfg *throttle.RateConfig) types.Limits {
	if cfg == nil || cfg.Unlimited() {
		return types.Limits{Rate: "unlimited"}
	}
	l := types.Limits{
		Limited:        true,
		Rate:           cfg.String(),
		BytesPerSecond: cfg.BytesPerSecond(),
		BucketSize:     cfg.BucketSize(),
	}
	if cfg.Timeout() > 0 {
		l.Timeout = cfg.Timeout().String()
	}
	return l
}
