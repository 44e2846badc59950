package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

const maxLabelLength = 63

// ParseQuery parses one inbound datagram.
//
// The opcode is read from bits 3-6 of byte 2. For anything but a standard
// query the returned DNSQuery has an empty Name and no error. For standard
// queries the label sequence starting at offset 12 is decoded into a name
// with a trailing dot after every label, and the bytes of the whole first
// question (name, type, class) are kept for echoing back.
func ParseQuery(data []byte) (domain.DNSQuery, error) {
	if len(data) < headerSize {
		return domain.DNSQuery{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(data), headerSize)
	}

	q := domain.DNSQuery{
		ID:            binary.BigEndian.Uint16(data[0:2]),
		Opcode:        domain.Opcode((data[2] >> 3) & 0x0F),
		QuestionCount: binary.BigEndian.Uint16(data[4:6]),
		Raw:           data,
	}
	if q.Opcode != domain.OpcodeQuery {
		return q, nil
	}

	name, end, err := decodeLabels(data, headerSize)
	if err != nil {
		return domain.DNSQuery{}, err
	}
	if end+4 > len(data) {
		return domain.DNSQuery{}, fmt.Errorf("%w: question type and class missing", ErrTruncated)
	}

	q.Name = name
	q.Type = binary.BigEndian.Uint16(data[end : end+2])
	q.Class = binary.BigEndian.Uint16(data[end+2 : end+4])
	q.Question = data[headerSize : end+4]
	return q, nil
}

// decodeLabels walks length-prefixed labels from offset until the zero
// terminator and returns the dotted name and the offset just past the
// terminator.
func decodeLabels(data []byte, offset int) (string, int, error) {
	var b strings.Builder
	for {
		if offset >= len(data) {
			return "", 0, fmt.Errorf("%w: label sequence not terminated", ErrTruncated)
		}
		length := int(data[offset])
		if length == 0 {
			return b.String(), offset + 1, nil
		}
		if length > maxLabelLength {
			return "", 0, fmt.Errorf("%w: length byte 0x%02x at offset %d", ErrMalformedLabel, length, offset)
		}
		start := offset + 1
		if start+length > len(data) {
			return "", 0, fmt.Errorf("%w: label at offset %d runs past end", ErrTruncated, offset)
		}
		label := data[start : start+length]
		if !utf8.Valid(label) {
			return "", 0, fmt.Errorf("%w: label at offset %d is not UTF-8", ErrMalformedLabel, offset)
		}
		b.Write(label)
		b.WriteByte('.')
		offset = start + length
	}
}
