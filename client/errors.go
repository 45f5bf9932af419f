package client

import "errors"

var (
	// ErrPeerNotConnected is returned when sending before the session is linked. It is not fatal, retry once linked.
	ErrPeerNotConnected = errors.New("peer not connected")

	ErrSessionClosed  = errors.New("session closed")
	ErrAlreadyStarted = errors.New("session already started")
	ErrAlreadyRunning = errors.New("client already running")
	ErrInvalidServer  = errors.New("invalid rendezvous server endpoint")
	ErrInvalidPeerID  = errors.New("invalid peer id")
	ErrSocketClosed   = errors.New("socket closed")
)
