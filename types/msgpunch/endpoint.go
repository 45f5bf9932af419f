package msgpunch

import (
	"net/netip"

	"github.com/edup2p/punch/types"
	"go4.org/mem"
)

// FormatEndpoint renders an endpoint as "ip:port", or "[ip]:port" for IPv6.
func FormatEndpoint(ap netip.AddrPort) []byte {
	return []byte(types.NormaliseAddrPort(ap).String())
}

// ParseEndpoint parses an "ip:port" announcement.
//
// The last colon separates the port, so both "[v6]:port" and bare "v6:port" are accepted.
func ParseEndpoint(b []byte) (netip.AddrPort, error) {
	return parseEndpoint(mem.B(b))
}

func parseEndpoint(m mem.RO) (netip.AddrPort, error) {
	i := mem.LastIndexByte(m, ':')
	if i < 0 {
		return netip.AddrPort{}, ErrMissingPort
	}

	port, err := parsePort(m.SliceFrom(i + 1))
	if err != nil {
		return netip.AddrPort{}, err
	}

	host := m.SliceTo(i)
	if host.Len() >= 2 && host.At(0) == '[' && host.At(host.Len()-1) == ']' {
		host = host.Slice(1, host.Len()-1)
	}

	addr, err := netip.ParseAddr(host.StringCopy())
	if err != nil {
		return netip.AddrPort{}, ErrBadAddr
	}

	return types.NormaliseAddrPort(netip.AddrPortFrom(addr, port)), nil
}

func parsePort(m mem.RO) (uint16, error) {
	if m.Len() == 0 {
		return 0, ErrBadPort
	}

	for i := 0; i < m.Len(); i++ {
		if c := m.At(i); c < '0' || c > '9' {
			return 0, ErrBadPort
		}
	}

	p, err := mem.ParseUint(m, 10, 16)
	if err != nil || p == 0 {
		return 0, ErrBadPort
	}

	return uint16(p), nil
}

// Hello returns the message a client sends to its partner once the link comes up.
func Hello(local netip.AddrPort) []byte {
	return []byte(HelloPrefix + types.NormaliseAddrPort(local).String())
}

// IsExitToken reports whether the payload is the exit token, ignoring case.
func IsExitToken(b []byte) bool {
	return mem.EqualFold(mem.B(b), mem.S(ExitToken))
}

// ValidPeerID reports whether id can be carried in an identity frame.
func ValidPeerID(id string) bool {
	return id != "" && mem.IndexByte(mem.S(id), PeerIDSeparator) < 0
}
