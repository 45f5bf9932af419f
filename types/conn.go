package types

import (
	"net"
	"net/netip"
	"time"
)

// UDPConn interface for the server and client dispatch loops to more easily deal with.
//
// *net.UDPConn satisfies this.
type UDPConn interface {
	SetReadDeadline(t time.Time) error

	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)

	LocalAddr() net.Addr

	Close() error
}

// UDPConnCloseCatcher wraps a socket and remembers that its owner closed it, for tests.
type UDPConnCloseCatcher struct {
	UDPConn

	// Closed is set by the first Close call, whatever the wrapped socket returns.
	Closed bool
}

func (c *UDPConnCloseCatcher) Close() error {
	c.Closed = true

	return c.UDPConn.Close()
}
