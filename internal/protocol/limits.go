package protocol

import "fmt"

// Limits constrains how much memory a single declared length may claim
// before any of it is read.
type Limits struct {
	MaxMetadataBytes uint32
	MaxPayloadBytes  uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxMetadataBytes: 64 * 1024,
		MaxPayloadBytes:  8 * 1024 * 1024,
	}
}

// Negotiated applies the device's advertised maximum payload size. A zero
// MaxDataLen keeps the current cap.
func (l Limits) Negotiated(meta StreamMetadata) Limits {
	if meta.MaxDataLen != 0 {
		l.MaxPayloadBytes = meta.MaxDataLen
	}
	return l
}

// CheckPayload rejects a declared payload length above the cap.
func (l Limits) CheckPayload(length uint32) error {
	if length > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes declared, limit %d", ErrPayloadTooLarge, length, l.MaxPayloadBytes)
	}
	return nil
}

// CheckMetadata rejects a declared handshake length above the cap.
func (l Limits) CheckMetadata(length uint32) error {
	if length > l.MaxMetadataBytes {
		return fmt.Errorf("%w: %d metadata bytes declared, limit %d", ErrPayloadTooLarge, length, l.MaxMetadataBytes)
	}
	return nil
}
