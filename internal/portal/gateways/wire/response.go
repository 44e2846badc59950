package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

// answerSize is the fixed answer record: pointer, type, class, TTL, RDLENGTH, 4 octets.
const answerSize = 2 + 2 + 2 + 4 + 2 + 4

// EncodeResponse serializes a redirect response:
//
//	ID | 0x8180 | QDCOUNT | ANCOUNT | 0 | 0 | question | C0 0C 0001 0001 TTL 0004 a.b.c.d
//
// The response is validated first, so a malformed value never reaches the wire.
func EncodeResponse(resp domain.DNSResponse) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(resp.Question) + answerSize)

	_ = binary.Write(&buf, binary.BigEndian, resp.ID)
	_ = binary.Write(&buf, binary.BigEndian, resp.Flags)
	_ = binary.Write(&buf, binary.BigEndian, resp.QuestionCount)
	_ = binary.Write(&buf, binary.BigEndian, resp.AnswerCount)
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // NSCOUNT
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // ARCOUNT

	buf.Write(resp.Question)

	a := resp.Answer
	_ = binary.Write(&buf, binary.BigEndian, a.NamePointer)
	_ = binary.Write(&buf, binary.BigEndian, a.Type)
	_ = binary.Write(&buf, binary.BigEndian, a.Class)
	_ = binary.Write(&buf, binary.BigEndian, a.TTL)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(a.IP)))
	buf.Write(a.IP[:])

	return buf.Bytes(), nil
}
