// Package relay forwards TCP connections to a fixed upstream address,
// pacing each direction with a throttle.Stream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/silmaril/trickle/internal/transfer"
	"github.com/silmaril/trickle/pkg/throttle"
	"github.com/silmaril/trickle/pkg/types"
)

// Config describes a relay. Nil rate configs leave that direction
// unlimited.
type Config struct {
	Listen   string
	Upstream string

	// Upload paces bytes received from clients on their way upstream.
	Upload *throttle.RateConfig
	// Download paces bytes sent back to clients.
	Download *throttle.RateConfig

	// AcceptRate caps new connections per second. Zero or less is unlimited.
	AcceptRate  float64
	AcceptBurst int
	DialTimeout time.Duration
}

// Relay accepts client connections and pipes each one to Upstream.
type Relay struct {
	cfg      Config
	manager  *transfer.Manager
	logger   *slog.Logger
	accept   *rate.Limiter
	upOpts   []throttle.Option
	downOpts []throttle.Option

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New validates cfg. A nil manager gets a private one.
func New(cfg Config, manager *transfer.Manager, logger *slog.Logger) (*Relay, error) {
	if cfg.Upstream == "" {
		return nil, errors.New("relay: no upstream address")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if manager == nil {
		manager = transfer.NewManager(logger)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	r := &Relay{
		cfg:     cfg,
		manager: manager,
		logger:  logger.With("component", "relay"),
		accept:  newAcceptLimiter(cfg.AcceptRate, cfg.AcceptBurst),
	}
	// Both legs are paced on the write side so a short request is
	// forwarded as soon as it arrives.
	if cfg.Upload != nil {
		r.upOpts = append(r.upOpts, throttle.WithWriteLimit(*cfg.Upload))
	}
	if cfg.Download != nil {
		r.downOpts = append(r.downOpts, throttle.WithWriteLimit(*cfg.Download))
	}
	return r, nil
}

func newAcceptLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Listen binds the listening socket. Serve calls it when needed.
func (r *Relay) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("relay: listen on %s: %w", r.cfg.Listen, err)
	}
	r.ln = ln
	r.logLimits()
	return nil
}

func (r *Relay) logLimits() {
	if r.cfg.Upload == nil {
		r.logger.Info("receive rate is unlimited")
	} else {
		r.logger.Info("receive rate limit", "rate", r.cfg.Upload.String())
	}
	if r.cfg.Download == nil {
		r.logger.Info("send rate is unlimited")
	} else {
		r.logger.Info("send rate limit", "rate", r.cfg.Download.String())
	}
	r.logger.Info("relay listening", "addr", r.ln.Addr().String(), "upstream", r.cfg.Upstream)
}

// Addr returns the bound address, or nil before Listen.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Manager returns the transfer manager connections are registered with.
func (r *Relay) Manager() *transfer.Manager {
	return r.manager
}

// Serve accepts connections until ctx is cancelled, then closes every open
// connection and waits for their handlers. It returns nil on cancellation.
func (r *Relay) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer r.wg.Wait()

	for {
		if err := r.accept.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: accept limiter: %w", err)
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				r.logger.Warn("accept failed", "error", err)
				continue
			}
			return fmt.Errorf("relay: accept: %w", err)
		}

		r.wg.Add(1)
		go r.handle(ctx, conn)
	}
}

// Close stops accepting new connections.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

func (r *Relay) handle(ctx context.Context, client net.Conn) {
	defer r.wg.Done()

	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", r.cfg.Upstream)
	if err != nil {
		r.logger.Warn("failed to dial upstream",
			"client", client.RemoteAddr().String(),
			"upstream", r.cfg.Upstream,
			"error", err)
		client.Close()
		return
	}

	pair := &connPair{client: client, upstream: upstream}
	l := &legs{
		up:   throttle.New(upstream, r.upOpts...),
		down: throttle.New(client, r.downOpts...),
	}
	info := r.manager.Start(types.TransferKindRelay, client.RemoteAddr().String(), r.cfg.Upstream, l, pair)

	stop := context.AfterFunc(ctx, func() { pair.Close() })
	defer stop()

	errc := make(chan error, 2)
	go func() { errc <- pipe(l.up, upstream, client, pair) }()
	go func() { errc <- pipe(l.down, client, upstream, pair) }()
	err = errors.Join(<-errc, <-errc)
	pair.Close()

	if err := r.manager.Complete(info.ID, err); err != nil {
		r.logger.Error("failed to complete transfer", "id", info.ID, "error", err)
	}
}

// pipe copies src into dst, which paces writes to dstConn. A clean end of
// src half-closes dstConn so the far side sees end of data. Any error
// tears down both connections.
func pipe(dst *throttle.Stream, dstConn, src net.Conn, pair io.Closer) error {
	_, err := io.Copy(dst, src)
	if err != nil {
		pair.Close()
		return err
	}
	if cw, ok := dstConn.(interface{ CloseWrite() error }); ok {
		if cw.CloseWrite() == nil {
			return nil
		}
	}
	pair.Close()
	return nil
}

type connPair struct {
	once     sync.Once
	client   net.Conn
	upstream net.Conn
	err      error
}

func (p *connPair) Close() error {
	p.once.Do(func() {
		p.err = errors.Join(p.client.Close(), p.upstream.Close())
	})
	return p.err
}

// legs reports a relayed connection from the client's point of view: read
// is what the client sent, write is what it received.
type legs struct {
	up   *throttle.Stream
	down *throttle.Stream
}

func (l *legs) Stats() (read, write throttle.DirectionStats) {
	_, read = l.up.Stats()
	_, write = l.down.Stats()
	return read, write
}

func (l *legs) ReadConfig() (throttle.RateConfig, bool) { return l.up.WriteConfig() }

func (l *legs) WriteConfig() (throttle.RateConfig, bool) { return l.down.WriteConfig() }
