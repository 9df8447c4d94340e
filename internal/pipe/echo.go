package pipe

import (
	"bufio"
	"fmt"
	"io"
)

// Direction tags one echoed byte block.
type Direction int

const (
	DirReceivedHeader Direction = iota
	DirReceivedData
	DirSending
)

func (d Direction) String() string {
	switch d {
	case DirReceivedHeader:
		return "RX Header"
	case DirReceivedData:
		return "RX Data"
	default:
		return "TX"
	}
}

const echoBytesPerLine = 10

// writeEcho renders b as hex, ten bytes per line, under a direction tag.
func writeEcho(w io.Writer, dir Direction, b []byte) {
	if w == nil {
		return
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %d bytes : ", dir, len(b))
	for i, v := range b {
		if i%echoBytesPerLine == 0 {
			bw.WriteByte('\n')
		}
		fmt.Fprintf(bw, "0x%02x ", v)
	}
	bw.WriteByte('\n')
	_ = bw.Flush()
}
