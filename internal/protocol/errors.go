package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Every error surfaced by a connection wraps exactly one of
// ErrProtocol, ErrTransport or ErrTimeout.
var (
	ErrProtocol  = errors.New("protocol: protocol error")
	ErrTransport = errors.New("protocol: transport error")
	ErrTimeout   = errors.New("protocol: timeout")
)

var (
	ErrRemoteClosed       = fmt.Errorf("%w: remote closed", ErrTransport)
	ErrNonZeroIdentifier  = fmt.Errorf("%w: stream_metadata_identifier was not 0", ErrProtocol)
	ErrBadPipeMagic       = fmt.Errorf("%w: unable to read pipe magic", ErrProtocol)
	ErrLengthMismatch     = fmt.Errorf("%w: data length mismatch", ErrProtocol)
	ErrMetadataTooShort   = fmt.Errorf("%w: stream metadata too short", ErrProtocol)
	ErrTruncated          = fmt.Errorf("%w: truncated packet", ErrProtocol)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported stream version", ErrProtocol)
	ErrPayloadTooLarge    = fmt.Errorf("%w: payload too large", ErrProtocol)
	ErrNoPacket           = errors.New("protocol: no packet")
)

// IsRetryable reports whether err only means that nothing arrived in time.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Timeoutf builds a retryable timeout error.
func Timeoutf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// Transportf builds a fatal transport error.
func Transportf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}
