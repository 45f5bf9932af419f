package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
)

// RunCheck ensures that only one instance of a loop is running at all times.
type RunCheck struct {
	*atomic.Bool
}

func MakeRunCheck() RunCheck {
	return RunCheck{
		&atomic.Bool{},
	}
}

// CheckOrMark atomically checks if its already running, else marks as running, returns a false value if the instance is already running.
func (rc *RunCheck) CheckOrMark() bool {
	return rc.CompareAndSwap(false, true)
}

func L(v any) *slog.Logger {
	return slog.With("component", fmt.Sprintf("%T", v))
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
