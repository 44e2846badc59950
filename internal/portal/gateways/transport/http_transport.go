package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/haukened/rr-portal/internal/portal/common/clock"
	"github.com/haukened/rr-portal/internal/portal/common/log"
)

// Accept failures such as EMFILE are retried after a pause that starts at
// minAcceptBackoff and doubles up to maxAcceptBackoff.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ConnHandler serves a single accepted connection. The transport closes the
// connection after ServeConn returns.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn) error
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Addr    string
	Handler ConnHandler
	Logger  log.Logger
	// Clock times the pause after a failed accept; nil means the real clock.
	Clock clock.Clock
}

// HTTPTransport accepts TCP connections and serves each on its own goroutine.
type HTTPTransport struct {
	addr    string
	handler ConnHandler
	logger  log.Logger
	clock   clock.Clock

	mu       sync.Mutex
	listener net.Listener
	running  bool
	stopCh   chan struct{}
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewHTTPTransport creates an HTTP transport; call Listen before Serve.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &HTTPTransport{
		addr:    opts.Addr,
		handler: opts.Handler,
		logger:  opts.Logger,
		clock:   opts.Clock,
		conns:   make(map[net.Conn]struct{}),
	}
}

func (t *HTTPTransport) Name() string { return "http" }

// Listen binds the TCP socket.
func (t *HTTPTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("HTTP transport already running")
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind TCP socket on %s: %w", t.addr, err)
	}
	t.listener = ln
	t.running = true
	t.stopCh = make(chan struct{})

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   ln.Addr().String(),
	}, "HTTP transport listening")
	return nil
}

// Serve accepts connections until ctx is done or Stop is called, then
// waits for in-flight connections to finish.
func (t *HTTPTransport) Serve(ctx context.Context) error {
	t.mu.Lock()
	ln, stopCh, running := t.listener, t.stopCh, t.running
	t.mu.Unlock()
	if !running {
		return ErrNotListening
	}
	stopOnDone(ctx, stopCh, t.Stop)
	defer t.wg.Wait()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay = nextAcceptDelay(delay)
			t.logger.Warn(map[string]any{
				"error":    err,
				"retry_in": delay.String(),
			}, "Failed to accept connection")
			select {
			case <-t.clock.After(delay):
			case <-stopCh:
				return nil
			}
			continue
		}
		delay = 0

		if !t.track(conn) {
			_ = conn.Close()
			return nil
		}
		go t.serveConn(ctx, conn)
	}
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	return min(prev*2, maxAcceptBackoff)
}

// Stop closes the listener and every live connection.
func (t *HTTPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	close(t.stopCh)
	t.running = false

	err := t.listener.Close()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   t.addr,
		"open":      len(t.conns),
	}, "HTTP transport stopped")
	return err
}

// Address returns the bound address once listening, else the configured one.
func (t *HTTPTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

func (t *HTTPTransport) serveConn(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	defer t.untrack(conn)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(map[string]any{
				"client": conn.RemoteAddr().String(),
				"panic":  fmt.Sprint(r),
			}, "Recovered panic in HTTP connection")
		}
	}()

	if err := t.handler.ServeConn(ctx, conn); err != nil {
		t.logger.Warn(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err,
		}, "HTTP connection aborted")
	}
}

// track registers conn unless the transport is stopping.
func (t *HTTPTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return false
	}
	t.conns[conn] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *HTTPTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
}
