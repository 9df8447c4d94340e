package protocol

import "fmt"

const (
	familyShift = 26
	idShift     = 16
	familyMask  = 0x3f
	idMask      = 0x3ff
)

// PipeMagic is the fixed word following the stream metadata header. Reading
// it in both byte orders tells the host which order the device writes.
const PipeMagic uint32 = 0x45495434

// Reserved header codes, family<<26 | id<<16.
const (
	HeaderStreamMetadata   uint32 = 0<<familyShift | 0<<idShift
	HeaderConnectionAck    uint32 = 0<<familyShift | 1<<idShift
	HeaderCounterDirectory uint32 = 0<<familyShift | 2<<idShift
	HeaderCounterSelection uint32 = 0<<familyShift | 4<<idShift

	HeaderTimelineDirectory uint32 = 1<<familyShift | 0<<idShift
	HeaderTimelineMessage   uint32 = 1<<familyShift | 1<<idShift
)

// MakeHeader packs a packet family and id into a header word.
func MakeHeader(family, id uint32) uint32 {
	return (family&familyMask)<<familyShift | (id&idMask)<<idShift
}

// Packet is one framed unit of the pipe. The payload is owned by the packet;
// whoever receives a Packet must not keep writing to the slice it was built
// from.
type Packet struct {
	Header  uint32
	Length  uint32
	Payload []byte
}

// NewPacket takes ownership of payload.
func NewPacket(header uint32, payload []byte) Packet {
	return Packet{Header: header, Length: uint32(len(payload)), Payload: payload}
}

// IsEmpty reports whether p is the "no packet" sentinel.
func (p Packet) IsEmpty() bool {
	return p.Header == 0 && p.Length == 0 && p.Payload == nil
}

func (p Packet) Family() uint32 {
	return (p.Header >> familyShift) & familyMask
}

func (p Packet) ID() uint32 {
	return (p.Header >> idShift) & idMask
}

// Clone returns a packet with its own copy of the payload.
func (p Packet) Clone() Packet {
	out := Packet{Header: p.Header, Length: p.Length}
	if p.Payload != nil {
		out.Payload = make([]byte, len(p.Payload))
		copy(out.Payload, p.Payload)
	}
	return out
}

func (p Packet) String() string {
	return fmt.Sprintf("packet{family=%d id=%d header=%#x length=%d}", p.Family(), p.ID(), p.Header, p.Length)
}
