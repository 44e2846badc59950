// Package portal serves one HTTP/1.0 exchange per connection: the landing
// page for every request except the media routes, which are streamed.
package portal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/haukened/rr-portal/internal/portal/common/log"
	"github.com/haukened/rr-portal/internal/portal/domain"
	"github.com/haukened/rr-portal/internal/portal/repos/visitors"
)

var (
	ErrLineTooLong    = errors.New("request line too long")
	ErrTooManyHeaders = errors.New("too many header lines")
)

const (
	statusOK       = "HTTP/1.0 200 OK\r\n"
	headerEnd      = "\r\n"
	notFound       = "HTTP/1.0 404 Not Found\r\n\r\n"
	landingRoute   = "landing"
	defaultChunk   = 1024
	defaultMaxLine = 4096
)

// Options configures a Handler. Zero sizes fall back to defaults.
type Options struct {
	Assets AssetSource
	// Routes select media files by path prefix; nil means domain.DefaultAssets.
	Routes       []domain.Asset
	ChunkSize    int
	MaxLine      int
	MaxHeaders   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       log.Logger
	Visitors     VisitorTracker
	Metrics      Recorder
}

// Handler serves the portal's HTTP/1.0 subset on accepted connections.
type Handler struct {
	assets       AssetSource
	routes       []domain.Asset
	chunkSize    int
	maxLine      int
	maxHeaders   int
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       log.Logger
	visitors     VisitorTracker
	metrics      Recorder
}

// NewHandler creates a Handler; an asset source is required.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Assets == nil {
		return nil, errors.New("portal: asset source required")
	}
	if opts.Routes == nil {
		opts.Routes = domain.DefaultAssets
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunk
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = defaultMaxLine
	}
	if opts.MaxHeaders <= 0 {
		opts.MaxHeaders = 100
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Handler{
		assets:       opts.Assets,
		routes:       opts.Routes,
		chunkSize:    opts.ChunkSize,
		maxLine:      opts.MaxLine,
		maxHeaders:   opts.MaxHeaders,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		visitors:     opts.Visitors,
		metrics:      opts.Metrics,
	}, nil
}

// ServeConn reads one request from conn and writes the response. It never
// closes conn; the caller does that on every return path.
//
// A connection that ends before sending anything gets no response. Oversized
// input returns ErrLineTooLong or ErrTooManyHeaders without a response.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	br := bufio.NewReader(conn)
	line, err := readLine(br, h.maxLine)
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return nil
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read request line: %w", err)
		}
	} else if err := h.drainHeaders(br); err != nil {
		return err
	}

	req := domain.ParseRequestLine(line)
	client := conn.RemoteAddr()
	h.logger.Info(map[string]any{
		"client":  addrString(client),
		"request": req.Line,
	}, "Received HTTP request")
	h.observe(client)

	if asset, ok := domain.MatchAsset(h.routes, req); ok {
		return h.serveAsset(ctx, conn, asset)
	}
	return h.serveLanding(conn)
}

// drainHeaders reads header lines until the blank line or EOF.
func (h *Handler) drainHeaders(br *bufio.Reader) error {
	for count := 0; ; count++ {
		line, err := readLine(br, h.maxLine)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read header: %w", err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
		if count >= h.maxHeaders {
			return fmt.Errorf("%w: limit %d", ErrTooManyHeaders, h.maxHeaders)
		}
	}
}

func (h *Handler) serveLanding(conn net.Conn) error {
	body, err := h.assets.Landing()
	if err != nil {
		return fmt.Errorf("load landing page: %w", err)
	}
	resp := make([]byte, 0, len(statusOK)+len(headerEnd)+len(body))
	resp = append(resp, statusOK...)
	resp = append(resp, headerEnd...)
	resp = append(resp, body...)

	n, err := h.write(conn, resp)
	h.record(landingRoute, 200, n)
	return err
}

func (h *Handler) serveAsset(ctx context.Context, conn net.Conn, asset domain.Asset) error {
	rc, err := h.assets.Open(asset.File)
	if err != nil {
		h.logger.Warn(map[string]any{
			"client": addrString(conn.RemoteAddr()),
			"file":   asset.File,
			"error":  err,
		}, "Asset unavailable")
		n, werr := h.write(conn, []byte(notFound))
		h.record(asset.Route, 404, n)
		return werr
	}
	defer rc.Close()

	sent, err := h.write(conn, []byte(statusOK+"Content-Type: "+asset.ContentType+"\r\n"+headerEnd))
	if err != nil {
		h.record(asset.Route, 200, sent)
		return err
	}

	buf := make([]byte, h.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			h.record(asset.Route, 200, sent)
			return err
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			w, werr := h.write(conn, buf[:n])
			sent += w
			if werr != nil {
				h.record(asset.Route, 200, sent)
				return fmt.Errorf("stream %s: %w", asset.File, werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			h.record(asset.Route, 200, sent)
			return fmt.Errorf("read %s: %w", asset.File, rerr)
		}
	}
	h.record(asset.Route, 200, sent)
	return nil
}

// write sends p under a fresh write deadline.
func (h *Handler) write(conn net.Conn, p []byte) (int, error) {
	if h.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}
	return conn.Write(p)
}

func (h *Handler) observe(client net.Addr) {
	if h.visitors == nil || client == nil {
		return
	}
	if _, err := h.visitors.Observe(visitors.AddrKey(client), domain.ActivityHTTP, ""); err != nil {
		h.logger.Warn(map[string]any{"client": addrString(client), "error": err}, "Failed to record visitor")
	}
}

func (h *Handler) record(route string, status, bytes int) {
	if h.metrics == nil {
		return
	}
	h.metrics.HTTPRequest(route, status)
	h.metrics.HTTPBytes(bytes)
}

// readLine reads through the next '\n'. A final line without a newline is
// returned together with io.EOF.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > limit {
			return "", fmt.Errorf("%w: limit %d", ErrLineTooLong, limit)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
