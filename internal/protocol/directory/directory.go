// Package directory declares the counter directory collaborator consumed by
// both connection variants. The wire decoder itself lives outside this
// module; callers plug one in through Decoder.
package directory

import (
	"errors"

	"github.com/danmuck/profpipe/internal/protocol"
)

var ErrNoDecoder = errors.New("directory: no decoder configured")

// Category groups counters by their local uid.
type Category struct {
	Name     string
	Counters []uint16
}

// Directory is one decoded counter directory.
type Directory struct {
	Categories []Category
}

// Decoder turns a counter directory packet (payload only, header stripped)
// into categories and maps the decoder's local uids back to the ones the
// device assigned.
type Decoder interface {
	Decode(protocol.Packet) (Directory, error)
	TranslateUID(local uint16) uint16
}

// CanonicalIDs flattens d in category then counter order, translating every
// uid through dec.
func CanonicalIDs(dec Decoder, d Directory) []uint16 {
	var out []uint16
	for _, cat := range d.Categories {
		for _, uid := range cat.Counters {
			out = append(out, dec.TranslateUID(uid))
		}
	}
	return out
}

// Static is a Decoder that always yields the same directory. The
// translation table maps local uids to device uids; missing entries pass
// through unchanged.
type Static struct {
	Directory   Directory
	Translation map[uint16]uint16
}

func (s Static) Decode(protocol.Packet) (Directory, error) {
	return s.Directory, nil
}

func (s Static) TranslateUID(local uint16) uint16 {
	if v, ok := s.Translation[local]; ok {
		return v
	}
	return local
}
