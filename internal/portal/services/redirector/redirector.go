// Package redirector answers every DNS question with the gateway address.
package redirector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/haukened/rr-portal/internal/portal/common/log"
	"github.com/haukened/rr-portal/internal/portal/domain"
	"github.com/haukened/rr-portal/internal/portal/infra/metrics"
	"github.com/haukened/rr-portal/internal/portal/repos/visitors"
)

// ErrNotAnswerable marks queries that get no reply at all: non-standard
// opcodes, empty names and anything without exactly one question.
var ErrNotAnswerable = errors.New("query not answerable")

// Redirector answers every standard query with a single A record for the
// gateway address.
type Redirector struct {
	gatewayIP domain.IPv4
	ttl       uint32
	logger    log.Logger
	visitors  VisitorTracker
	metrics   Recorder
}

// Options configures a Redirector.
type Options struct {
	GatewayIP domain.IPv4
	// TTL of the answer record; zero means domain.DefaultTTL.
	TTL      uint32
	Logger   log.Logger
	Visitors VisitorTracker
	Metrics  Recorder
}

// New creates a Redirector; a zero GatewayIP is an error.
func New(opts Options) (*Redirector, error) {
	if opts.GatewayIP.IsZero() {
		return nil, errors.New("redirector: gateway address required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.TTL == 0 {
		opts.TTL = domain.DefaultTTL
	}
	return &Redirector{
		gatewayIP: opts.GatewayIP,
		ttl:       opts.TTL,
		logger:    opts.Logger,
		visitors:  opts.Visitors,
		metrics:   opts.Metrics,
	}, nil
}

// GatewayIP returns the address every answer points at.
func (r *Redirector) GatewayIP() domain.IPv4 {
	return r.gatewayIP
}

// HandleQuery builds the redirect for q and records the visitor. Queries
// that must be dropped return an error wrapping ErrNotAnswerable.
func (r *Redirector) HandleQuery(ctx context.Context, q domain.DNSQuery, client net.Addr) (domain.DNSResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.DNSResponse{}, err
	}

	resp, err := domain.NewRedirectResponse(q, r.gatewayIP, r.ttl)
	if err != nil {
		r.record(metrics.ResultDropped)
		r.logger.Debug(map[string]any{
			"client": addrString(client),
			"id":     q.ID,
			"opcode": q.Opcode.String(),
			"reason": err.Error(),
		}, "Dropping DNS query")
		return domain.DNSResponse{}, fmt.Errorf("%w: %w", ErrNotAnswerable, err)
	}

	if r.visitors != nil && client != nil {
		if _, err := r.visitors.Observe(visitors.AddrKey(client), domain.ActivityDNS, q.Name); err != nil {
			r.logger.Warn(map[string]any{"client": addrString(client), "error": err}, "Failed to record visitor")
		}
	}
	return resp, nil
}

// Delivered logs and counts the redirect once the transport has tried to
// send it.
func (r *Redirector) Delivered(q domain.DNSQuery, client net.Addr, err error) {
	if err != nil {
		r.record(metrics.ResultSendFailed)
		r.logger.Warn(map[string]any{
			"client": addrString(client),
			"name":   q.Name,
			"error":  err,
		}, "Failed to send DNS redirect")
		return
	}
	r.record(metrics.ResultRedirected)
	r.logger.Info(map[string]any{
		"client": addrString(client),
		"name":   q.Name,
		"apex":   apexDomain(q.Name),
		"ip":     r.gatewayIP.String(),
	}, "Redirected DNS query")
}

func (r *Redirector) record(result string) {
	if r.metrics != nil {
		r.metrics.DNSQuery(result)
	}
}

// apexDomain returns the registrable domain of name for log grouping,
// falling back to the name itself.
func apexDomain(name string) string {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
