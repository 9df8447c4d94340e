//go:build linux || darwin

package pipe

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fdPoller inspects a socket descriptor directly with an ioctl and poll(2).
// A wake pipe sits beside the socket in every poll so interrupt can end a
// wait before the socket is closed.
type fdPoller struct {
	raw  syscall.RawConn
	wake [2]int

	mu       sync.Mutex
	released bool
}

func newFDPoller(c net.Conn) *fdPoller {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil
	}
	p := &fdPoller{raw: raw}
	if err := unix.Pipe(p.wake[:]); err != nil {
		return nil
	}
	for _, fd := range p.wake {
		unix.CloseOnExec(fd)
		_ = unix.SetNonblock(fd, true)
	}
	return p
}

// pending is the number of bytes the kernel holds for reading.
func (p *fdPoller) pending() int {
	n := 0
	_ = p.raw.Control(func(fd uintptr) {
		v, err := unix.IoctlGetInt(int(fd), ioctlReadable)
		if err == nil {
			n = v
		}
	})
	return n
}

// interrupt ends any wait in progress and every later one.
func (p *fdPoller) interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.released {
		_, _ = unix.Write(p.wake[1], []byte{1})
	}
}

// release closes the wake pipe. The socket must already be closed so no
// wait can still be polling it.
func (p *fdPoller) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	_ = unix.Close(p.wake[0])
	_ = unix.Close(p.wake[1])
}

func (p *fdPoller) wait(timeout time.Duration) (readiness, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	var (
		n       int
		revents int16
		woken   bool
		perr    error
	)
	cerr := p.raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(p.wake[0]), Events: unix.POLLIN},
		}
		for {
			n, perr = unix.Poll(fds, ms)
			if !errors.Is(perr, unix.EINTR) {
				break
			}
		}
		revents = fds[0].Revents
		woken = fds[1].Revents != 0
	})
	if cerr != nil {
		return readyInvalid, cerr
	}
	switch {
	case perr != nil:
		return readyError, perr
	case woken:
		return readyInvalid, net.ErrClosed
	case n == 0:
		return readyTimeout, nil
	case revents&unix.POLLNVAL != 0:
		return readyInvalid, nil
	case revents&unix.POLLERR != 0:
		return readyError, nil
	case revents&unix.POLLHUP != 0:
		return readyHangup, nil
	case revents&unix.POLLIN == 0:
		return readySpurious, nil
	}
	return readyData, nil
}
