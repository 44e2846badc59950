package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/rr-portal/internal/portal/common/clock"
	"github.com/haukened/rr-portal/internal/portal/common/log"
	"github.com/haukened/rr-portal/internal/portal/domain"
	"github.com/haukened/rr-portal/internal/portal/gateways/wire"
	"github.com/haukened/rr-portal/internal/portal/infra/metrics"
)

// State is the position of the DNS loop in its receive cycle.
type State int32

const (
	StateIdle State = iota
	StateWaitingForDatagram
	StateProcessing
	StateReplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForDatagram:
		return "waiting"
	case StateProcessing:
		return "processing"
	case StateReplying:
		return "replying"
	default:
		return "unknown"
	}
}

// QueryHandler answers decoded queries. An error from HandleQuery means the
// query is dropped without a reply. Delivered reports the outcome of sending
// each built response; err is nil when the reply went out.
type QueryHandler interface {
	HandleQuery(ctx context.Context, query domain.DNSQuery, clientAddr net.Addr) (domain.DNSResponse, error)
	Delivered(query domain.DNSQuery, clientAddr net.Addr, err error)
}

// DNSRecorder counts malformed datagrams and backoffs.
type DNSRecorder interface {
	DNSQuery(result string)
	DNSBackoff()
}

// UDPOptions configures a UDPTransport.
type UDPOptions struct {
	Addr    string
	Codec   wire.DNSCodec
	Handler QueryHandler
	Logger  log.Logger
	Clock   clock.Clock
	// Backoff is the pause after a socket error or a recovered panic.
	Backoff   time.Duration
	MaxPacket int
	Metrics   DNSRecorder
}

// UDPTransport serves DNS over UDP, one datagram at a time in arrival order.
type UDPTransport struct {
	addr      string
	codec     wire.DNSCodec
	handler   QueryHandler
	logger    log.Logger
	clock     clock.Clock
	backoff   time.Duration
	maxPacket int
	metrics   DNSRecorder

	mu      sync.RWMutex
	conn    *net.UDPConn
	running bool
	stopCh  chan struct{}

	state atomic.Int32
}

// NewUDPTransport creates a UDP transport; call Listen before Serve.
func NewUDPTransport(opts UDPOptions) *UDPTransport {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.MaxPacket <= 0 {
		opts.MaxPacket = 4096
	}
	return &UDPTransport{
		addr:      opts.Addr,
		codec:     opts.Codec,
		handler:   opts.Handler,
		logger:    opts.Logger,
		clock:     opts.Clock,
		backoff:   opts.Backoff,
		maxPacket: opts.MaxPacket,
		metrics:   opts.Metrics,
	}
}

func (t *UDPTransport) Name() string { return "dns" }

// Listen binds the UDP socket.
func (t *UDPTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true
	t.stopCh = make(chan struct{})

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "DNS transport listening")
	return nil
}

// Serve runs the receive loop until ctx is done or Stop is called.
func (t *UDPTransport) Serve(ctx context.Context) error {
	t.mu.RLock()
	conn, stopCh, running := t.conn, t.stopCh, t.running
	t.mu.RUnlock()
	if !running {
		return ErrNotListening
	}
	stopOnDone(ctx, stopCh, t.Stop)
	defer t.setState(StateIdle)

	buffer := make([]byte, t.maxPacket)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		default:
		}

		t.setState(StateWaitingForDatagram)
		n, clientAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if t.stopped(stopCh) {
				return nil
			}
			t.logger.Error(map[string]any{"error": err}, "Failed to read UDP packet")
			t.pause(ctx, stopCh)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])
		if err := t.handlePacket(ctx, conn, packet, clientAddr); err != nil {
			if t.stopped(stopCh) {
				return nil
			}
			t.logger.Error(map[string]any{
				"client": clientAddr.String(),
				"error":  err,
			}, "DNS loop fault")
			t.pause(ctx, stopCh)
		}
	}
}

// Stop closes the socket, which unblocks a pending read.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	close(t.stopCh)
	t.running = false

	closeErr := t.conn.Close()
	if closeErr != nil {
		t.logger.Warn(map[string]any{"error": closeErr}, "Error closing UDP connection")
	}
	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   t.addr,
	}, "DNS transport stopped")
	return closeErr
}

// Address returns the bound address once listening, else the configured one.
func (t *UDPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

// State returns where the loop is in its receive cycle.
func (t *UDPTransport) State() State {
	return State(t.state.Load())
}

func (t *UDPTransport) setState(s State) {
	if State(t.state.Swap(int32(s))) != s {
		t.logger.Debug(map[string]any{"state": s.String()}, "DNS loop state")
	}
}

// handlePacket decodes, answers and replies to one datagram. Only socket
// errors and panics are returned; bad queries are logged and dropped.
func (t *UDPTransport) handlePacket(ctx context.Context, conn *net.UDPConn, data []byte, clientAddr *net.UDPAddr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling datagram: %v", r)
		}
	}()
	t.setState(StateProcessing)

	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(data),
		"raw":    fmt.Sprintf("%x", data),
	}, "Received raw DNS query data")

	query, err := t.codec.DecodeQuery(data)
	if err != nil {
		t.logger.Warn(map[string]any{
			"client": clientAddr.String(),
			"error":  err,
			"size":   len(data),
		}, "Dropping malformed DNS query")
		if t.metrics != nil {
			t.metrics.DNSQuery(metrics.ResultMalformed)
		}
		return nil
	}

	response, err := t.handler.HandleQuery(ctx, query, clientAddr)
	if err != nil {
		t.logger.Debug(map[string]any{
			"client":   clientAddr.String(),
			"query_id": query.ID,
			"error":    err,
		}, "DNS query not answered")
		return nil
	}

	responseData, err := t.codec.EncodeResponse(response)
	if err != nil {
		t.logger.Error(map[string]any{
			"client":   clientAddr.String(),
			"query_id": query.ID,
			"error":    err,
		}, "Failed to encode DNS response")
		return nil
	}

	t.setState(StateReplying)
	if _, err := conn.WriteToUDP(responseData, clientAddr); err != nil {
		t.handler.Delivered(query, clientAddr, err)
		return fmt.Errorf("send response to %s: %w", clientAddr, err)
	}
	t.handler.Delivered(query, clientAddr, nil)

	t.logger.Debug(map[string]any{
		"client":   clientAddr.String(),
		"query_id": response.ID,
		"size":     len(responseData),
	}, "Sent DNS response")
	return nil
}

// pause waits out the backoff, returning early on ctx or Stop.
func (t *UDPTransport) pause(ctx context.Context, stopCh <-chan struct{}) {
	if t.metrics != nil {
		t.metrics.DNSBackoff()
	}
	t.logger.Warn(map[string]any{"backoff": t.backoff.String()}, "DNS loop backing off")
	select {
	case <-t.clock.After(t.backoff):
	case <-ctx.Done():
	case <-stopCh:
	}
}

func (t *UDPTransport) stopped(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}
