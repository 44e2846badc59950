package domain

import "fmt"

// Identity is the fixed network identity of the gateway. It is built once
// at startup and never mutated; the redirector reads GatewayIP and the
// access point setup (outside this process) reads all of it.
type Identity struct {
	SSID      string
	GatewayIP IPv4
	Subnet    IPv4
}

// NewIdentity parses and validates the gateway identity.
func NewIdentity(ssid, gatewayIP, subnet string) (Identity, error) {
	if ssid == "" {
		return Identity{}, fmt.Errorf("ssid must not be empty")
	}
	if len(ssid) > 32 {
		return Identity{}, fmt.Errorf("ssid %q exceeds 32 bytes", ssid)
	}
	gw, err := ParseIPv4(gatewayIP)
	if err != nil {
		return Identity{}, fmt.Errorf("gateway: %w", err)
	}
	if gw.IsZero() {
		return Identity{}, fmt.Errorf("gateway address must not be 0.0.0.0")
	}
	mask, err := ParseIPv4(subnet)
	if err != nil {
		return Identity{}, fmt.Errorf("subnet: %w", err)
	}
	if !mask.IsNetmask() {
		return Identity{}, fmt.Errorf("subnet %s is not a contiguous netmask", mask)
	}
	return Identity{SSID: ssid, GatewayIP: gw, Subnet: mask}, nil
}

// Fields returns the identity as log fields.
func (id Identity) Fields() map[string]any {
	return map[string]any{
		"ssid":    id.SSID,
		"gateway": id.GatewayIP.String(),
		"subnet":  id.Subnet.String(),
	}
}
