package protocol

import "fmt"

// EncodeCounterSelection renders the capture period followed by each counter
// id as a 16-bit word.
func EncodeCounterSelection(period uint32, ids []uint16, order ByteOrder) []byte {
	buf := make([]byte, 4+2*len(ids))
	PutUint32(period, buf[0:4], order)
	offset := 4
	for _, id := range ids {
		PutUint16(id, buf[offset:offset+2], order)
		offset += 2
	}
	return buf
}

// DecodeCounterSelection is the inverse of EncodeCounterSelection.
func DecodeCounterSelection(b []byte, order ByteOrder) (uint32, []uint16, error) {
	if len(b) < 4 || (len(b)-4)%2 != 0 {
		return 0, nil, fmt.Errorf("%w: counter selection of %d bytes", ErrTruncated, len(b))
	}
	period := ToUint32(b[0:4], order)
	ids := make([]uint16, 0, (len(b)-4)/2)
	for offset := 4; offset < len(b); offset += 2 {
		ids = append(ids, ToUint16(b[offset:offset+2], order))
	}
	return period, ids, nil
}
