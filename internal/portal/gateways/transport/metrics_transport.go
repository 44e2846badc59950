package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/haukened/rr-portal/internal/portal/common/log"
)

const metricsShutdownTimeout = 5 * time.Second

// MetricsTransport serves /metrics over net/http.
type MetricsTransport struct {
	addr   string
	server *http.Server
	logger log.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	stopCh   chan struct{}
}

// NewMetricsTransport creates a listener that serves handler on /metrics.
func NewMetricsTransport(addr string, handler http.Handler, logger log.Logger) *MetricsTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &MetricsTransport{
		addr: addr,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (t *MetricsTransport) Name() string { return "metrics" }

func (t *MetricsTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("metrics transport already running")
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics socket on %s: %w", t.addr, err)
	}
	t.listener = ln
	t.running = true
	t.stopCh = make(chan struct{})

	t.logger.Info(map[string]any{"address": ln.Addr().String()}, "Metrics transport listening")
	return nil
}

func (t *MetricsTransport) Serve(ctx context.Context) error {
	t.mu.Lock()
	ln, stopCh, running := t.listener, t.stopCh, t.running
	t.mu.Unlock()
	if !running {
		return ErrNotListening
	}
	stopOnDone(ctx, stopCh, t.Stop)

	if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (t *MetricsTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	close(t.stopCh)
	t.running = false
	ln := t.listener
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	err := t.server.Shutdown(ctx)
	// Shutdown only closes listeners Serve has seen.
	_ = ln.Close()
	t.logger.Info(map[string]any{"address": t.addr}, "Metrics transport stopped")
	return err
}

func (t *MetricsTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}
