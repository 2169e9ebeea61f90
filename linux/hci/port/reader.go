//go:build linux
// +build linux

package port

import (
	"golang.org/x/sys/unix"

	"github.com/rigado/scomm/linux/hci/h4"
)

const (
	readBufSize = 2056

	pollIn   = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLRDHUP
	pollDead = unix.POLLERR | unix.POLLHUP
	pollHup  = pollDead | unix.POLLRDHUP
)

// reader moves controller traffic to the host until the port stops running
// or the transport fails.
func (p *Port) reader() {
	defer close(p.readerDone)
	defer p.busy.Store(false)

	// the cancellation fd always comes first
	fds := []unix.PollFd{
		{Fd: int32(p.cancel.Bridge()), Events: pollIn},
		{Fd: int32(p.fd), Events: pollIn},
	}
	n := 0

	p.log.Debugf("reader start")
	defer p.log.Debugf("reader exit")
	close(p.started)

	for p.running.Load() {
		_, err := unix.Poll(fds, int(pollInterval.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.log.Errorf("poll: %v", err)
			continue
		}

		if fds[0].Revents != 0 && !p.running.Load() {
			return
		}

		rev := fds[1].Revents
		if rev&unix.POLLIN != 0 {
			p.busy.Store(true)
			m, err := readFd(p.fd, p.buf[n:])
			p.busy.Store(false)

			if err == unix.EAGAIN {
				continue
			}
			if err != nil {
				p.log.Errorf("read failed, running %v: %v", p.running.Load(), err)
				if p.running.Load() && p.idx == CmdEvt {
					p.hub.hardwareError(p)
				}
				return
			}
			if m == 0 {
				if rev&pollHup != 0 {
					p.log.Errorf("transport hung up")
					p.driverState.Store(false)
					return
				}
				continue
			}

			n = p.dispatch(p.buf[:n+m])
			continue
		}

		if rev&pollDead != 0 {
			p.log.Errorf("poll error on fd %d", p.fd)
			p.driverState.Store(false)
			return
		}
	}
}

// dispatch delivers every complete frame in b and moves what is left to the
// front of the buffer, returning its length.
func (p *Port) dispatch(b []byte) int {
	for {
		r := h4.Next(b, h4.ToHost)
		switch r.Kind {
		case h4.Complete:
			p.deliver(r.Frame)
			b = r.Rest

		case h4.Resync:
			p.log.Warnf("dropping %d bytes of noise, type 0x%02x", r.Skip, b[0])
			b = b[r.Skip:]

		case h4.NeedMore:
			if len(b)+r.Need > len(p.buf) {
				p.log.Warnf("frame type 0x%02x longer than %d bytes, resyncing", b[0], len(p.buf))
				b = b[1:]
				continue
			}
			return copy(p.buf, b)
		}
	}
}

func (p *Port) deliver(f h4.Frame) {
	if f.Type() == h4.VendorLogPacket {
		if _, err := p.hub.diag.Write(f); err != nil {
			p.log.Warnf("diag: %v", err)
		}
		return
	}
	p.hub.capture.Capture(f, true)
	p.hub.toHost(p, f)
}
