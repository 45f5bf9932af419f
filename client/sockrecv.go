package client

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/edup2p/punch/types"
)

const (
	SockRecvReadTimeout     = time.Second
	SockRecvFrameChanBuffer = 32
	SockRecvErrorBackoff    = 100 * time.Millisecond
	MaxPacketSize           = 64 << 10
)

type RecvFrame struct {
	pkt []byte

	src netip.AddrPort
}

// SockRecv reads the socket and hands every datagram to the dispatch loop, it touches no session state.
//
// It never closes the socket, its owner does that to unblock a pending read.
type SockRecv struct {
	Conn types.UDPConn

	outCh   chan RecvFrame
	running RunCheck
}

func MakeSockRecv(udp types.UDPConn) *SockRecv {
	return &SockRecv{
		Conn:    udp,
		outCh:   make(chan RecvFrame, SockRecvFrameChanBuffer),
		running: MakeRunCheck(),
	}
}

// Frames is closed once Run returns.
func (r *SockRecv) Frames() <-chan RecvFrame {
	return r.outCh
}

func (r *SockRecv) Run(ctx context.Context) {
	if !r.running.CheckOrMark() {
		L(r).Warn("tried to run receiver, while already running")
		return
	}

	defer func() {
		if v := recover(); v != nil {
			L(r).Error("panicked", "err", v)
		}
		r.Close()
	}()

	var buf = make([]byte, MaxPacketSize)

	for {
		if types.IsContextDone(ctx) {
			return
		}

		if err := r.Conn.SetReadDeadline(time.Now().Add(SockRecvReadTimeout)); err != nil {
			if isClosedErr(err) {
				return
			}
			L(r).Warn("error setting read deadline", "error", err)
		}

		n, ap, err := r.Conn.ReadFromUDPAddrPort(buf)

		var e net.Error
		switch {
		case err == nil:
		case errors.As(err, &e) && e.Timeout():
			continue
		case isClosedErr(err):
			return
		default:
			L(r).Warn("error reading from socket", "error", err)
			time.Sleep(SockRecvErrorBackoff)
			continue
		}

		if n == 0 {
			continue
		}

		pkt := slices.Clone(buf[:n])

		select {
		case <-ctx.Done():
			return
		case r.outCh <- RecvFrame{
			pkt: pkt,
			src: ap,
		}:
			// fallthrough continue
		}
	}
}

// Close signals the end of the frame stream, it is called by Run on exit.
func (r *SockRecv) Close() {
	close(r.outCh)
}
