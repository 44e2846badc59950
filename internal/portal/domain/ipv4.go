package domain

import (
	"fmt"
	"math/bits"
	"net/netip"
)

// IPv4 is a validated IPv4 address in network byte order.
type IPv4 [4]byte

// ParseIPv4 parses a dotted-quad string. Exactly four decimal octets in
// the range 0-255 are accepted; IPv6 and IPv4-mapped forms are rejected.
func ParseIPv4(s string) (IPv4, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IPv4{}, fmt.Errorf("invalid IPv4 address %q: %w", s, err)
	}
	if !addr.Is4() {
		return IPv4{}, fmt.Errorf("invalid IPv4 address %q: not a dotted quad", s)
	}
	return IPv4(addr.As4()), nil
}

// MustParseIPv4 is like ParseIPv4 but panics on error. For constants and tests.
func MustParseIPv4(s string) IPv4 {
	ip, err := ParseIPv4(s)
	if err != nil {
		panic(err)
	}
	return ip
}

func (ip IPv4) String() string {
	return netip.AddrFrom4(ip).String()
}

// IsZero reports whether ip is 0.0.0.0.
func (ip IPv4) IsZero() bool {
	return ip == IPv4{}
}

// IsNetmask reports whether ip is a contiguous subnet mask (255.255.255.0, ...).
func (ip IPv4) IsNetmask() bool {
	v := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	return bits.LeadingZeros32(^v) > 0 && bits.OnesCount32(v) == bits.LeadingZeros32(^v)
}
