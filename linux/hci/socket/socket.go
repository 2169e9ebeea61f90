//go:build linux
// +build linux

package socket

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func ioctl(fd, op, arg uintptr) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, op, arg); ep != 0 {
		return ep
	}
	return nil
}

// Nudge issues a no-op ioctl on a transport descriptor. Some SDIO/USB
// character drivers use any ioctl to wake a reader blocked in the driver.
func Nudge(fd int) error {
	return ioctl(uintptr(fd), 0, 0)
}

// Pair is an AF_UNIX stream socket pair. The host end is handed out to the
// host stack, the bridge end stays inside the transport.
type Pair struct {
	fds [2]int
}

// NewPair creates a connected, blocking socket pair.
func NewPair() (*Pair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket pair")
	}
	return &Pair{fds: fds}, nil
}

// Host returns the host-facing end, or -1 once closed.
func (p *Pair) Host() int { return p.fds[0] }

// Bridge returns the transport-facing end, or -1 once closed.
func (p *Pair) Bridge() int { return p.fds[1] }

// ShutdownHost shuts down the host end so that a reader blocked on the
// bridge end sees EOF. The descriptor stays allocated.
func (p *Pair) ShutdownHost() error {
	if p.fds[0] < 0 {
		return nil
	}
	return errors.Wrap(unix.Shutdown(p.fds[0], unix.SHUT_RDWR), "can't shutdown host end")
}

// Signal writes a single byte on the host end, making the bridge end
// readable.
func (p *Pair) Signal() error {
	b := []byte{1}
	for {
		_, err := unix.Write(p.fds[0], b)
		if err == unix.EINTR {
			continue
		}
		return errors.Wrap(err, "can't signal")
	}
}

// Close closes both ends and resets them to -1.
func (p *Pair) Close() error {
	var first error
	for i, fd := range p.fds {
		if fd < 0 {
			continue
		}
		if err := unix.Close(fd); err != nil && first == nil {
			first = errors.Wrapf(err, "can't close fd %d", fd)
		}
		p.fds[i] = -1
	}
	return first
}
