package client

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/edup2p/punch/types"
)

const (
	RequestChanLen = 8
	EventChanLen   = 64
)

// request is a user action handed over to the dispatch loop.
type request struct {
	exit  bool
	text  []byte
	reply chan error
}

// Client runs a Session on a UDP socket.
//
// Datagrams and user requests are handled one at a time on the goroutine calling Run,
// Send and Exit may be called from any goroutine.
type Client struct {
	conn types.UDPConn
	sess *Session
	recv *SockRecv

	ctx context.Context

	reqCh  chan request
	events chan Event
	done   chan struct{}

	state   atomic.Int32
	running RunCheck
}

// NewClient creates a client on conn. If cfg.Local is unset it is taken from the socket.
func NewClient(conn types.UDPConn, cfg Config) (*Client, error) {
	if !cfg.Local.IsValid() {
		if ap, ok := types.AddrPortFromNetAddr(conn.LocalAddr()); ok {
			cfg.Local = ap
		}
	}

	c := &Client{
		conn:    conn,
		recv:    MakeSockRecv(conn),
		reqCh:   make(chan request, RequestChanLen),
		events:  make(chan Event, EventChanLen),
		done:    make(chan struct{}),
		running: MakeRunCheck(),
	}

	sess, err := NewSession(cfg, conn, c.emit)
	if err != nil {
		return nil, err
	}
	c.sess = sess

	return c, nil
}

// Run registers with the server and dispatches until the session closes, the socket fails, or ctx is done.
//
// The socket is closed and the receiver has stopped when Run returns.
func (c *Client) Run(ctx context.Context) (err error) {
	if !c.running.CheckOrMark() {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx

	defer func() {
		if v := recover(); v != nil {
			L(c).Error("panicked", "panic", v)
			err = fmt.Errorf("client panicked: %v", v)
		}

		cancel()
		if cErr := c.conn.Close(); cErr != nil && !isClosedErr(cErr) {
			L(c).Warn("error closing socket", "error", cErr)
		}

		// wait for the receiver to let go of the socket
		for range c.recv.Frames() {
		}

		close(c.done)
		close(c.events)
	}()

	go c.recv.Run(ctx)

	if err := c.sess.Start(); err != nil {
		// Not fatal, but nothing will happen until the process is restarted.
		L(c).Warn("registration was not sent", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-c.recv.Frames():
			if !ok {
				return ErrSocketClosed
			}
			c.sess.OnDatagram(frame.pkt, frame.src)
		case req := <-c.reqCh:
			req.reply <- c.handle(req)
		}

		if c.sess.State() == Closed {
			return nil
		}
	}
}

func (c *Client) handle(req request) error {
	if req.exit {
		return c.sess.Exit()
	}
	return c.sess.Send(req.text)
}

// emit runs on the dispatch goroutine.
func (c *Client) emit(ev Event) {
	if se, ok := ev.(StateEvent); ok {
		c.state.Store(int32(se.To))
	}

	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// Send hands text to the dispatch loop to be sent to the partner.
//
// Returns ErrPeerNotConnected before the session is linked.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.do(ctx, request{text: []byte(text)})
}

// Exit asks the dispatch loop to end the session.
func (c *Client) Exit(ctx context.Context) error {
	return c.do(ctx, request{exit: true})
}

func (c *Client) do(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)

	select {
	case c.reqCh <- req:
	case <-c.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		// The loop replies before it returns, so a reply may be waiting.
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State is safe to call from any goroutine.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Events delivers state changes and messages, and is closed when Run returns.
//
// It must be drained, the dispatch loop blocks on it.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) PeerID() string {
	return c.sess.PeerID()
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
