package rendezvous

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/edup2p/punch/types"
)

// Listen binds the server's UDP socket on addrPort.
//
// The socket is closed once ctx is done, which ends Serve.
func (s *Server) Listen(ctx context.Context, addrPort netip.AddrPort) error {
	bind, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addrPort))
	if err != nil {
		return err
	}

	s.Use(ctx, bind)

	s.L().Info("listening", "addr", s.LocalAddr())

	return nil
}

// Use sets conn as the server's socket, closing it once ctx is done.
func (s *Server) Use(ctx context.Context, conn types.UDPConn) {
	s.conn = conn
	s.out = conn

	// close the listener on shutdown in order to break out of the read loop
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.L().Error("failed to close bind", "err", err)
		}
	}()
}

// LocalAddr returns the local address of the server. It must not be called before Listen or Use.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve reads datagrams and handles them one at a time until the socket is closed.
func (s *Server) Serve() error {
	if s.conn == nil {
		return errors.New("rendezvous: Serve called before Listen")
	}

	var buf [MaxPacketSize]byte
	for {
		n, src, err := s.conn.ReadFromUDPAddrPort(buf[:])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.L().Warn("read error", "error", err)
			time.Sleep(ReadErrorBackoff)
			continue
		}

		s.OnDatagram(buf[:n], src)
	}
}

// ListenAndServe starts the server on listenAddr.
func (s *Server) ListenAndServe(ctx context.Context, listenAddr netip.AddrPort) error {
	if err := s.Listen(ctx, listenAddr); err != nil {
		return err
	}
	return s.Serve()
}
