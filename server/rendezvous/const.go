package rendezvous

import "time"

const (
	MaxPacketSize = 64 << 10

	// ReadErrorBackoff is how long Serve waits after a non-fatal socket read error.
	ReadErrorBackoff = time.Second
)
