//go:build !(linux || darwin)

package pipe

import (
	"net"
	"time"
)

// fdPoller is unavailable here; every conn uses the deadline fallback.
type fdPoller struct{}

func newFDPoller(net.Conn) *fdPoller { return nil }

func (*fdPoller) pending() int { return 0 }

func (*fdPoller) interrupt() {}

func (*fdPoller) release() {}

func (*fdPoller) wait(time.Duration) (readiness, error) { return readyError, nil }
