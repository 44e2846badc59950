package domain

import (
	"errors"
	"fmt"
)

const (
	// FlagsRedirect is a standard response with recursion desired and
	// recursion available set and RCODE NOERROR.
	FlagsRedirect uint16 = 0x8180

	// QuestionPointer is a compression pointer to the first question name,
	// which always starts right after the 12-byte header.
	QuestionPointer uint16 = 0xC00C

	// DefaultTTL is the TTL of every redirect answer, in seconds.
	DefaultTTL uint32 = 60
)

var (
	ErrNoQuestion        = errors.New("query has no question to answer")
	ErrQuestionCount     = errors.New("query must carry exactly one question")
	ErrUnsupportedOpcode = errors.New("query opcode is not a standard query")
)

// Answer is the single A record of a redirect response.
type Answer struct {
	NamePointer uint16
	Type        uint16
	Class       uint16
	TTL         uint32
	IP          IPv4
}

// DNSResponse is a redirect reply: the header, the echoed question and
// exactly one answer pointing at the gateway.
type DNSResponse struct {
	ID            uint16
	Flags         uint16
	QuestionCount uint16
	AnswerCount   uint16
	Question      []byte
	Answer        Answer

	// Name is carried for logging only; it is not encoded.
	Name string
}

// NewRedirectResponse builds the reply to q pointing every name at ip.
// Queries that are not standard, have no name, or carry anything other
// than exactly one question are refused.
func NewRedirectResponse(q DNSQuery, ip IPv4, ttl uint32) (DNSResponse, error) {
	if q.Opcode != OpcodeQuery {
		return DNSResponse{}, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, q.Opcode)
	}
	if q.Name == "" || len(q.Question) == 0 {
		return DNSResponse{}, ErrNoQuestion
	}
	if q.QuestionCount != 1 {
		return DNSResponse{}, fmt.Errorf("%w: qdcount=%d", ErrQuestionCount, q.QuestionCount)
	}

	resp := DNSResponse{
		ID:    q.ID,
		Flags: FlagsRedirect,
		// Both counts mirror the query's own QDCOUNT, which is pinned to 1 above.
		QuestionCount: q.QuestionCount,
		AnswerCount:   q.QuestionCount,
		Question:      q.Question,
		Answer: Answer{
			NamePointer: QuestionPointer,
			Type:        TypeA,
			Class:       ClassIN,
			TTL:         ttl,
			IP:          ip,
		},
		Name: q.Name,
	}
	if err := resp.Validate(); err != nil {
		return DNSResponse{}, err
	}
	return resp, nil
}

// Validate checks the structural invariants of a redirect response.
func (r DNSResponse) Validate() error {
	if r.QuestionCount != 1 || r.AnswerCount != 1 {
		return fmt.Errorf("redirect response must carry 1 question and 1 answer, got %d/%d", r.QuestionCount, r.AnswerCount)
	}
	if len(r.Question) < 5 {
		return fmt.Errorf("question section too short: %d bytes", len(r.Question))
	}
	if r.Answer.IP.IsZero() {
		return fmt.Errorf("answer address must not be 0.0.0.0")
	}
	return nil
}
