package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/silmaril/trickle/internal/api"
	"github.com/silmaril/trickle/internal/api/handlers"
	"github.com/silmaril/trickle/internal/config"
	"github.com/silmaril/trickle/internal/relay"
	"github.com/silmaril/trickle/internal/transfer"
)

const (
	defaultCleanupInterval = time.Minute
	defaultRetention       = time.Hour
)

// Daemon hosts the HTTP API with its throttled file server and, when an
// upstream is configured, the TCP relay. Both share one transfer manager.
type Daemon struct {
	mu       sync.Mutex
	config   *config.Config
	logger   *slog.Logger
	manager  *transfer.Manager
	server   *http.Server
	relay    *relay.Relay
	ln       net.Listener
	workers  sync.WaitGroup
	interval time.Duration
	retain   time.Duration
}

func New(cfg *config.Config, version string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	read, write, err := cfg.RateConfigs()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		config:   cfg,
		logger:   logger.With("component", "daemon"),
		manager:  transfer.NewManager(logger),
		interval: defaultCleanupInterval,
		retain:   defaultRetention,
	}

	h := handlers.NewHandlers(handlers.Options{
		Manager:       d.manager,
		Root:          cfg.Server.Root,
		Read:          read,
		Write:         write,
		Version:       version,
		RelayUpstream: cfg.Relay.Upstream,
		Logger:        logger,
	})
	d.server = &http.Server{
		Handler:           api.SetupRoutes(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Relay.Upstream != "" {
		d.relay, err = relay.New(relay.Config{
			Listen:      cfg.Relay.Listen,
			Upstream:    cfg.Relay.Upstream,
			Upload:      read,
			Download:    write,
			AcceptRate:  cfg.Relay.AcceptRate,
			AcceptBurst: cfg.Relay.AcceptBurst,
			DialTimeout: cfg.Relay.DialTimeout,
		}, d.manager, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay: %w", err)
		}
	}

	return d, nil
}

// Manager returns the transfer manager shared by the API and the relay
func (d *Daemon) Manager() *transfer.Manager {
	return d.manager
}

// Listen binds the API socket and, if configured, the relay socket.
func (d *Daemon) Listen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ln == nil {
		ln, err := net.Listen("tcp", d.config.Server.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", d.config.Server.Listen, err)
		}
		d.ln = ln
	}
	if d.relay != nil {
		if err := d.relay.Listen(); err != nil {
			return err
		}
	}
	return nil
}

// Addr returns the API address, or nil before Listen.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

// RelayAddr returns the relay address, or nil when no relay runs.
func (d *Daemon) RelayAddr() net.Addr {
	if d.relay == nil {
		return nil
	}
	return d.relay.Addr()
}

// Run serves until ctx is cancelled, then shuts the API server down within
// the configured shutdown timeout and waits for the relay and workers.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		d.logger.Info("api listening", "addr", d.ln.Addr().String(), "root", d.config.Server.Root)
		if err := d.server.Serve(d.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("api server: %w", err)
		}
	}()

	if d.relay != nil {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			if err := d.relay.Serve(ctx); err != nil {
				errs <- err
			}
		}()
	}

	d.workers.Add(1)
	go d.cleanupWorker(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		cancel()
	}

	d.logger.Info("shutting down")
	if err := d.shutdown(); err != nil {
		d.logger.Error("error shutting down api server", "error", err)
	}
	d.workers.Wait()
	return runErr
}

func (d *Daemon) shutdown() error {
	timeout := d.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Downloads in flight hold the server open; cancel them first.
	for _, t := range d.manager.Active() {
		if err := d.manager.Cancel(t.ID); err != nil && !errors.Is(err, transfer.ErrNotActive) {
			d.logger.Warn("failed to cancel transfer", "id", t.ID, "error", err)
		}
	}
	return d.server.Shutdown(ctx)
}

func (d *Daemon) cleanupWorker(ctx context.Context) {
	defer d.workers.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.manager.Cleanup(d.retain); n > 0 {
				d.logger.Debug("removed finished transfers", "count", n)
			}
		}
	}
}
