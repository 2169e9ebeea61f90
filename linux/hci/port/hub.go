//go:build linux
// +build linux

package port

import (
	"io"
	"io/ioutil"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/linux/hci/evt"
	"github.com/rigado/scomm/linux/hci/socket"
	"github.com/rigado/scomm/snoop"
)

const (
	// pollInterval bounds how long a loop goes without checking running.
	pollInterval = 500 * time.Millisecond

	busyTimeout = 2 * time.Second

	hwErrCPError = 0x10
)

type nopCapture struct{}

func (nopCapture) Capture([]byte, bool) {}

// Config of a Hub.
type Config struct {
	Mode     Mode
	UartOnly bool
	NoSleep  bool

	Capture snoop.Capturer
	Diag    snoop.DiagWriter
}

// Hub owns the port table and the single path back to the host.
type Hub struct {
	ports [NumPorts]*Port
	mode  atomic.Int32

	uartOnly bool
	noSleep  bool

	capture snoop.Capturer
	diag    snoop.DiagWriter

	// hostMu serializes every write to the host bridge.
	hostMu sync.Mutex

	// closing counts Close calls in progress.
	closing atomic.Int32

	wakeMu  sync.Mutex
	wake    io.Writer
	wakeCnt uint8

	log scomm.Logger
}

func NewHub(cfg Config) *Hub {
	h := &Hub{
		uartOnly: cfg.UartOnly,
		noSleep:  cfg.NoSleep,
		capture:  cfg.Capture,
		diag:     cfg.Diag,
		log:      scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "hub"}),
	}
	if h.capture == nil {
		h.capture = nopCapture{}
	}
	if h.diag == nil {
		h.diag = ioutil.Discard
	}
	h.mode.Store(int32(cfg.Mode))
	for i := range h.ports {
		h.ports[i] = newPort(h, Index(i))
	}
	return h
}

func (h *Hub) Mode() Mode { return Mode(h.mode.Load()) }

// SetMode changes how host traffic is routed.
func (h *Hub) SetMode(m Mode) {
	h.log.Infof("mode %v", m)
	h.mode.Store(int32(m))
}

// SetWake sets the power-control node that gets a byte per forwarded host
// packet in UART deployments.
func (h *Hub) SetWake(w io.Writer) {
	h.wakeMu.Lock()
	h.wake = w
	h.wakeMu.Unlock()
}

// Port returns the port at idx, nil when out of range.
func (h *Hub) Port(idx Index) *Port {
	if !idx.valid() {
		return nil
	}
	return h.ports[idx]
}

// IsOpen reports whether a transport is attached at idx.
func (h *Hub) IsOpen(idx Index) bool {
	p := h.Port(idx)
	if p == nil {
		return false
	}
	p.txMu.RLock()
	defer p.txMu.RUnlock()
	return p.fd >= 0
}

// Open attaches t at idx and starts its reader, and for port 0 the host
// reactor. It returns the host end of the port's bridge once the reader is
// running. On error the caller keeps ownership of t.
func (h *Hub) Open(idx Index, t Transport) (int, error) {
	p := h.Port(idx)
	if p == nil {
		return -1, ErrInvalid
	}
	if h.IsOpen(idx) {
		return -1, ErrOpen
	}

	bridge, err := socket.NewPair()
	if err != nil {
		return -1, err
	}
	cancel, err := socket.NewPair()
	if err != nil {
		bridge.Close()
		return -1, err
	}

	p.txMu.Lock()
	p.t = t
	p.fd = int(t.Fd())
	p.txMu.Unlock()

	h.hostMu.Lock()
	p.bridge = bridge
	p.cancel = cancel
	h.hostMu.Unlock()

	p.buf = make([]byte, readBufSize)
	p.running.Store(true)

	if idx == CmdEvt {
		if err := p.startReactor(); err != nil {
			p.running.Store(false)
			p.release()
			p.txMu.Lock()
			p.t = nil
			p.fd = -1
			p.txMu.Unlock()
			return -1, err
		}
	}

	p.started = make(chan struct{})
	p.readerDone = make(chan struct{})
	go p.reader()

	<-p.started

	p.driverState.Store(true)
	p.log.Infof("open, transport fd %d, host fd %d", p.fd, bridge.Host())
	return bridge.Host(), nil
}

func (p *Port) startReactor() error {
	ep, err := socket.NewEpoll(p.log)
	if err != nil {
		return err
	}
	p.epoll = ep

	if err := ep.Register(socket.NewObject(p.bridge.Bridge(), p, p.hub.readHost)); err != nil {
		return err
	}
	if err := ep.Register(socket.NewObject(p.cancel.Bridge(), nil, nil)); err != nil {
		return err
	}

	p.reactorDone = make(chan struct{})
	go func() {
		defer close(p.reactorDone)
		p.log.Debugf("reactor start")
		ep.Run(p.running.Load, pollInterval)
		p.log.Debugf("reactor exit")
	}()
	return nil
}

// Close stops the port's goroutines and releases every descriptor opened by
// Open, including the host end handed out to the caller. Closing a closed
// port is a no-op.
func (h *Hub) Close(idx Index) error {
	p := h.Port(idx)
	if p == nil {
		return ErrInvalid
	}
	if !h.IsOpen(idx) {
		return nil
	}
	p.log.Debugf("close, busy %v", p.busy.Load())

	h.closing.Add(1)
	defer h.closing.Add(-1)

	p.running.Store(false)
	p.driverState.Store(false)

	deadline := time.Now().Add(busyTimeout)
	for p.busy.Load() {
		if time.Now().After(deadline) {
			p.log.Warnf("transport read still outstanding")
			break
		}
		time.Sleep(20 * time.Microsecond)
	}

	if err := socket.Nudge(p.fd); err != nil {
		p.log.Debugf("nudge: %v", err)
	}
	if err := p.cancel.Signal(); err != nil {
		p.log.Errorf("%v", err)
	}

	if h.Mode() == ModeSDIO {
		for i := 0; i < 2 && !p.readerExited(); i++ {
			time.Sleep(300 * time.Microsecond)
			socket.Nudge(p.fd)
		}
	}

	if p.readerDone != nil {
		<-p.readerDone
	}

	var first error
	p.txMu.Lock()
	if err := p.t.Close(); err != nil {
		p.log.Errorf("close transport: %v", err)
		first = err
	}
	p.t = nil
	p.fd = -1
	p.txMu.Unlock()

	if p.epoll != nil {
		// a reactor blocked mid-frame sees EOF
		p.bridge.ShutdownHost()
		<-p.reactorDone
	}

	if err := p.release(); err != nil && first == nil {
		first = err
	}
	p.log.Infof("closed")
	return first
}

// release tears down the bridge, cancellation pair and reactor.
func (p *Port) release() error {
	var first error
	keep := func(err error) {
		if err != nil {
			p.log.Error(err)
			if first == nil {
				first = err
			}
		}
	}

	if p.epoll != nil {
		keep(p.epoll.Unregister(p.bridge.Bridge()))
		keep(p.epoll.Unregister(p.cancel.Bridge()))
		keep(p.epoll.Close())
		p.epoll = nil
	}

	p.hub.hostMu.Lock()
	keep(p.bridge.Close())
	keep(p.cancel.Close())
	p.bridge = nil
	p.cancel = nil
	p.hub.hostMu.Unlock()

	p.readerDone = nil
	p.reactorDone = nil
	return first
}

func (p *Port) readerExited() bool {
	select {
	case <-p.readerDone:
		return true
	default:
		return false
	}
}

// CloseAll closes every port.
func (h *Hub) CloseAll() error {
	var first error
	for i := range h.ports {
		if err := h.Close(Index(i)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Transmit writes b straight to the transport at idx, bypassing the host
// bridge.
func (h *Hub) Transmit(idx Index, b []byte) error {
	p := h.Port(idx)
	if p == nil {
		return ErrInvalid
	}

	p.txMu.RLock()
	defer p.txMu.RUnlock()
	if p.fd < 0 {
		return ErrClosed
	}
	for len(b) > 0 {
		n, err := writeFd(p.fd, b)
		if err != nil {
			return errors.Wrapf(err, "port %v", idx)
		}
		b = b[n:]
	}
	return nil
}

// toHost writes one frame to the host through port 0's bridge on behalf of
// port from. Frames from all ports funnel through here one at a time. The
// write gives up once from stops running, or when the host isn't draining
// while another port is closing.
func (h *Hub) toHost(from *Port, b []byte) {
	h.hostMu.Lock()
	defer h.hostMu.Unlock()

	p := h.ports[CmdEvt]
	if p.bridge == nil {
		h.log.Warnf("host bridge closed, dropping %d bytes", len(b))
		return
	}
	fds := []unix.PollFd{
		{Fd: int32(p.bridge.Bridge()), Events: unix.POLLOUT},
		{Fd: int32(from.cancel.Bridge()), Events: unix.POLLIN},
	}

	for len(b) > 0 && p.running.Load() && from.running.Load() {
		n, err := unix.SendmsgN(p.bridge.Bridge(), b, nil, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		if err == nil {
			b = b[n:]
			continue
		}
		if err != unix.EAGAIN && err != unix.EINTR {
			h.log.Errorf("write to host: %v", err)
			return
		}

		if _, err := unix.Poll(fds, int(pollInterval.Milliseconds())); err != nil && err != unix.EINTR {
			h.log.Errorf("poll host: %v", err)
			return
		}
		if fds[0].Revents&unix.POLLOUT == 0 && fds[1].Revents == 0 && h.closing.Load() > 0 {
			h.log.Warnf("host not reading, dropping %d bytes", len(b))
			return
		}
	}
}

// hardwareError tells the host the controller link behind from failed.
func (h *Hub) hardwareError(from *Port) {
	h.log.Errorf("controller link failed, reporting hardware error")
	h.toHost(from, evt.HardwareError(hwErrCPError))
}

func (h *Hub) wakeController() {
	if h.Mode() != ModeUART || h.uartOnly || h.noSleep {
		return
	}

	h.wakeMu.Lock()
	defer h.wakeMu.Unlock()
	if h.wake == nil {
		return
	}
	if _, err := h.wake.Write([]byte{h.wakeCnt}); err != nil {
		h.log.Warnf("wake: %v", err)
	}
	h.wakeCnt++
}
