package pipe

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// readiness is the outcome of waiting for data on a connection.
type readiness int

const (
	readyData readiness = iota
	readyTimeout
	readySpurious
	readyHangup
	readyInvalid
	readyError
)

func (r readiness) String() string {
	switch r {
	case readyData:
		return "readable"
	case readyTimeout:
		return "timeout"
	case readySpurious:
		return "spurious"
	case readyHangup:
		return "hangup"
	case readyInvalid:
		return "invalid"
	default:
		return "error"
	}
}

// peekReadiness waits for one byte to become readable on a conn that has
// no pollable descriptor. The byte stays buffered in rd.
func peekReadiness(c net.Conn, rd interface{ Peek(int) ([]byte, error) }, timeout time.Duration) (readiness, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	// Some transports refuse deadlines once the far end has gone; Peek
	// then reports the hang-up itself.
	if err := c.SetReadDeadline(deadline); err == nil {
		defer c.SetReadDeadline(time.Time{})
	}

	if _, err := rd.Peek(1); err != nil {
		return classifyReadErr(err)
	}
	return readyData, nil
}

func classifyReadErr(err error) (readiness, error) {
	var ne net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return readyTimeout, nil
	case errors.As(err, &ne) && ne.Timeout():
		return readyTimeout, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrNoProgress):
		return readyHangup, nil
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return readyInvalid, err
	default:
		return readyError, err
	}
}
