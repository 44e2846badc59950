package domain

import "fmt"

// Opcode is the 4-bit DNS header OPCODE field.
type Opcode uint8

// OpcodeQuery is a standard query, the only opcode the redirector answers.
const OpcodeQuery Opcode = 0

func (o Opcode) String() string {
	switch o {
	case 0:
		return "QUERY"
	case 1:
		return "IQUERY"
	case 2:
		return "STATUS"
	case 4:
		return "NOTIFY"
	case 5:
		return "UPDATE"
	default:
		return fmt.Sprintf("OPCODE%d", uint8(o))
	}
}

// Record type and class of the redirect answer.
const (
	// TypeA is the IPv4 address record type.
	TypeA uint16 = 1
	// ClassIN is the Internet class.
	ClassIN uint16 = 1
)

// DNSQuery is one inbound datagram, parsed just far enough to answer it.
// Name is empty when the opcode is not a standard query.
type DNSQuery struct {
	// ID is the transaction ID, echoed back unchanged.
	ID            uint16
	Opcode        Opcode
	QuestionCount uint16

	// Name is the question name, each label followed by a dot ("example.com.").
	Name  string
	Type  uint16
	Class uint16

	// Question holds the exact bytes of the first question section
	// (QNAME, QTYPE, QCLASS) as received.
	Question []byte

	// Raw is the datagram the query was parsed from.
	Raw []byte
}

// IsStandard reports whether q is a standard query carrying a name.
func (q DNSQuery) IsStandard() bool {
	return q.Opcode == OpcodeQuery && q.Name != ""
}
