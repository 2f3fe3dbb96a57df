package geolib

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Address is a validated IPv4 or IPv6 address. Zero value is invalid.
type Address struct {
	addr netip.Addr
}

// String returns a canonical form of the address. This form is used as
// a cache key.
func (a Address) String() string {
	return a.addr.String()
}

// IP returns an address as net.IP.
func (a Address) IP() net.IP {
	return net.IP(a.addr.AsSlice())
}

func (a Address) Is4() bool {
	return a.addr.Is4()
}

func (a Address) IsValid() bool {
	return a.addr.IsValid()
}

// ParseAddress trims a raw string and parses it as IP address literal.
//
// IPv4-mapped IPv6 addresses like ::ffff:8.8.8.8 are unmapped, so they
// share a cache key with their IPv4 counterpart. Scoped IPv6 addresses
// are rejected: zone makes no sense for geolocation.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}

	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, trimmed)
	}

	if addr.Zone() != "" {
		return Address{}, fmt.Errorf("%w: zone is not allowed in %s", ErrInvalidAddress, trimmed)
	}

	return Address{addr: addr.Unmap()}, nil
}
