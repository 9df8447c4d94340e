package protocol

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	metadataWords   = 3
	minMetadataSize = metadataWords * 4
	magicSize       = 4
)

// StreamMetadata is the fixed prefix of the handshake payload.
type StreamMetadata struct {
	Version    uint32
	MaxDataLen uint32
	PID        uint32
}

// ParseStreamMetadata reads the fixed words at offsets 0, 4 and 8 of the
// metadata that follows the pipe magic.
func ParseStreamMetadata(b []byte, order ByteOrder) (StreamMetadata, error) {
	if len(b) < minMetadataSize {
		return StreamMetadata{}, fmt.Errorf("%w: got %d bytes", ErrMetadataTooShort, len(b))
	}
	return StreamMetadata{
		Version:    ToUint32(b[0:4], order),
		MaxDataLen: ToUint32(b[4:8], order),
		PID:        ToUint32(b[8:12], order),
	}, nil
}

// EncodeStreamMetadata builds the complete handshake a device sends: the
// zero identifier, the length word, the pipe magic, the metadata words and
// any trailing bytes.
func EncodeStreamMetadata(meta StreamMetadata, order ByteOrder, extra []byte) []byte {
	bodyLen := minMetadataSize + len(extra)
	buf := make([]byte, HeaderSize+magicSize+bodyLen)
	PutUint32(0, buf[0:4], BigEndian)
	PutUint32(uint32(bodyLen+magicSize), buf[4:8], order)
	PutUint32(PipeMagic, buf[8:12], order)
	PutUint32(meta.Version, buf[12:16], order)
	PutUint32(meta.MaxDataLen, buf[16:20], order)
	PutUint32(meta.PID, buf[20:24], order)
	copy(buf[24:], extra)
	return buf
}

// EncodeVersion packs major/minor/patch the way stream versions are sent.
func EncodeVersion(major, minor, patch uint32) uint32 {
	return (major&0x3ff)<<22 | (minor&0x3ff)<<12 | patch&0xfff
}

// Semver decodes the packed stream version.
func (m StreamMetadata) Semver() *semver.Version {
	major := uint64(m.Version >> 22 & 0x3ff)
	minor := uint64(m.Version >> 12 & 0x3ff)
	patch := uint64(m.Version & 0xfff)
	return semver.New(major, minor, patch, "", "")
}

// CheckVersion validates the metadata version against a semver constraint
// such as ">= 1.0.0, < 2.0.0". An empty constraint accepts everything.
func CheckVersion(m StreamMetadata, constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("protocol: bad version constraint %q: %w", constraint, err)
	}
	v := m.Semver()
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %q", ErrUnsupportedVersion, v, constraint)
	}
	return nil
}
