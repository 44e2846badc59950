// Package wire converts between DNS datagrams and the portal's domain types.
// It understands exactly one message shape: a single-question standard
// query in, a single A-record redirect out.
package wire

import (
	"errors"

	"github.com/haukened/rr-portal/internal/portal/common/log"
	"github.com/haukened/rr-portal/internal/portal/domain"
)

const headerSize = 12

var (
	// ErrTruncated is returned when parsing would read past the datagram.
	ErrTruncated = errors.New("dns message truncated")
	// ErrMalformedLabel is returned for labels longer than 63 bytes
	// (including compression pointers) or labels that are not UTF-8.
	ErrMalformedLabel = errors.New("malformed dns label")
)

// DNSCodec decodes query datagrams and encodes redirect responses.
type DNSCodec interface {
	DecodeQuery(data []byte) (domain.DNSQuery, error)
	EncodeResponse(resp domain.DNSResponse) ([]byte, error)
}

// udpCodec implements DNSCodec for datagrams received over UDP.
type udpCodec struct {
	logger log.Logger
}

// NewUDPCodec returns a codec that logs decoded names at debug level.
func NewUDPCodec(logger log.Logger) DNSCodec {
	return &udpCodec{logger: logger}
}

func (c *udpCodec) DecodeQuery(data []byte) (domain.DNSQuery, error) {
	q, err := ParseQuery(data)
	if err != nil {
		return domain.DNSQuery{}, err
	}
	c.logger.Debug(map[string]any{
		"id":     q.ID,
		"opcode": q.Opcode.String(),
		"name":   q.Name,
	}, "Decoded DNS query")
	return q, nil
}

func (c *udpCodec) EncodeResponse(resp domain.DNSResponse) ([]byte, error) {
	return EncodeResponse(resp)
}
