package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the size of the two-word packet header.
const HeaderSize = 8

// ByteOrder is the word order negotiated during the handshake.
type ByteOrder uint8

const (
	OrderUnknown ByteOrder = iota
	BigEndian
	LittleEndian
)

func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big-endian"
	case LittleEndian:
		return "little-endian"
	default:
		return "unknown"
	}
}

// Binary returns the encoding/binary order. An unresolved order reads and
// writes as big-endian, which is how the handshake identifier is checked.
func (o ByteOrder) Binary() binary.ByteOrder {
	if o == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ToUint32 reads the first four bytes of b.
func ToUint32(b []byte, order ByteOrder) uint32 {
	return order.Binary().Uint32(b)
}

// PutUint32 writes v into the first four bytes of dst.
func PutUint32(v uint32, dst []byte, order ByteOrder) {
	order.Binary().PutUint32(dst, v)
}

func ToUint16(b []byte, order ByteOrder) uint16 {
	return order.Binary().Uint16(b)
}

func PutUint16(v uint16, dst []byte, order ByteOrder) {
	order.Binary().PutUint16(dst, v)
}

// ResolveByteOrder tries the magic word as big-endian first, then
// little-endian.
func ResolveByteOrder(magic []byte) (ByteOrder, error) {
	if ToUint32(magic, BigEndian) == PipeMagic {
		return BigEndian, nil
	}
	if ToUint32(magic, LittleEndian) == PipeMagic {
		return LittleEndian, nil
	}
	return OrderUnknown, ErrBadPipeMagic
}

// EncodeHeader renders the (header, length) pair.
func EncodeHeader(header, length uint32, order ByteOrder) [HeaderSize]byte {
	var buf [HeaderSize]byte
	PutUint32(header, buf[0:4], order)
	PutUint32(length, buf[4:8], order)
	return buf
}

// DecodeHeader extracts (header, length) from the first eight bytes of b.
func DecodeHeader(b []byte, order ByteOrder) (uint32, uint32) {
	return ToUint32(b[0:4], order), ToUint32(b[4:8], order)
}

// EncodePacket frames family/id and payload into a single buffer.
func EncodePacket(family, id uint32, payload []byte, order ByteOrder) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	hdr := EncodeHeader(MakeHeader(family, id), uint32(len(payload)), order)
	copy(buf, hdr[:])
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodePacket parses a fully buffered packet. The payload is copied so the
// returned packet owns it.
func DecodePacket(b []byte, order ByteOrder) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrTruncated
	}
	header, length := DecodeHeader(b, order)
	if uint64(len(b)-HeaderSize) < uint64(length) {
		return Packet{}, ErrTruncated
	}
	payload := make([]byte, length)
	copy(payload, b[HeaderSize:HeaderSize+int(length)])
	return Packet{Header: header, Length: length, Payload: payload}, nil
}

// WritePacket writes p to w as one buffer.
func WritePacket(w io.Writer, p Packet, order ByteOrder) error {
	buf := make([]byte, HeaderSize+len(p.Payload))
	hdr := EncodeHeader(p.Header, uint32(len(p.Payload)), order)
	copy(buf, hdr[:])
	copy(buf[HeaderSize:], p.Payload)
	if _, err := w.Write(buf); err != nil {
		return Transportf("write packet: %v", err)
	}
	return nil
}

// ReadPacket reads one packet from r under DefaultLimits.
func ReadPacket(r io.Reader, order ByteOrder) (Packet, error) {
	return ReadPacketLimited(r, order, DefaultLimits())
}

// ReadPacketLimited reads one packet from r, refusing a declared length
// above limits before allocating for it.
func ReadPacketLimited(r io.Reader, order ByteOrder, limits Limits) (Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, readErr(err)
	}
	header, length := DecodeHeader(hdr[:], order)
	if err := limits.CheckPayload(length); err != nil {
		return Packet{}, err
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, readErr(err)
		}
	}
	return Packet{Header: header, Length: length, Payload: payload}, nil
}

func readErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrRemoteClosed
	}
	return fmt.Errorf("%w: read packet: %w", ErrTransport, err)
}
