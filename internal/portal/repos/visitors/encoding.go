package visitors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

const (
	recordVersion    = 1
	recordHeaderSize = 1 + 8 + 8 + 8 + 8 + 2
)

var errCorruptRecord = errors.New("corrupt visitor record")

// encodeVisitor serializes everything but the address, which is the key:
//
//	version | first seen | last seen | dns queries | http requests | name len | name
func encodeVisitor(v domain.Visitor) []byte {
	name := v.LastName
	if len(name) > math.MaxUint16 {
		name = name[:math.MaxUint16]
	}
	buf := make([]byte, recordHeaderSize+len(name))
	buf[0] = recordVersion
	binary.BigEndian.PutUint64(buf[1:9], uint64(unixNano(v.FirstSeen)))
	binary.BigEndian.PutUint64(buf[9:17], uint64(unixNano(v.LastSeen)))
	binary.BigEndian.PutUint64(buf[17:25], v.DNSQueries)
	binary.BigEndian.PutUint64(buf[25:33], v.HTTPRequests)
	binary.BigEndian.PutUint16(buf[33:35], uint16(len(name)))
	copy(buf[recordHeaderSize:], name)
	return buf
}

func decodeVisitor(addr string, data []byte) (domain.Visitor, error) {
	if len(data) < recordHeaderSize {
		return domain.Visitor{}, fmt.Errorf("%w: %d bytes", errCorruptRecord, len(data))
	}
	if data[0] != recordVersion {
		return domain.Visitor{}, fmt.Errorf("%w: version %d", errCorruptRecord, data[0])
	}
	n := int(binary.BigEndian.Uint16(data[33:35]))
	if len(data) != recordHeaderSize+n {
		return domain.Visitor{}, fmt.Errorf("%w: name length %d", errCorruptRecord, n)
	}
	return domain.Visitor{
		Addr:         addr,
		FirstSeen:    fromUnixNano(int64(binary.BigEndian.Uint64(data[1:9]))),
		LastSeen:     fromUnixNano(int64(binary.BigEndian.Uint64(data[9:17]))),
		DNSQueries:   binary.BigEndian.Uint64(data[17:25]),
		HTTPRequests: binary.BigEndian.Uint64(data[25:33]),
		LastName:     string(data[recordHeaderSize:]),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
