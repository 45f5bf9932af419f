package msgpunch

import "errors"

var (
	ErrMissingPort   = errors.New("endpoint has no port separator")
	ErrBadPort       = errors.New("endpoint port is not a valid port number")
	ErrBadAddr       = errors.New("endpoint address is not a valid ip")
	ErrBadPeerID     = errors.New("peer id is empty or contains a separator")
	ErrNotIdentified = errors.New("message is not an identity frame")
	ErrUnknownFrame  = errors.New("unknown framing")
)
