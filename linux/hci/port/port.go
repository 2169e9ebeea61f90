//go:build linux
// +build linux

// Package port bridges up to four controller transports to a host socket.
package port

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/linux/hci/socket"
)

// Index names a logical channel to the controller.
type Index int

const (
	CmdEvt Index = iota
	ACL
	Audio
	ISO

	NumPorts = 4
)

func (i Index) String() string {
	switch i {
	case CmdEvt:
		return "cmd/evt"
	case ACL:
		return "acl"
	case Audio:
		return "audio"
	case ISO:
		return "iso"
	}
	return "invalid"
}

func (i Index) valid() bool { return i >= 0 && i < NumPorts }

// Mode is the deployment shape of the transports.
type Mode int32

const (
	// ModeUART carries everything over port 0.
	ModeUART Mode = iota
	// ModeUSB carries everything over port 0.
	ModeUSB
	// ModeSDIO routes host traffic to one port per packet class.
	ModeSDIO
)

func (m Mode) String() string {
	switch m {
	case ModeUART:
		return "uart"
	case ModeUSB:
		return "usb"
	case ModeSDIO:
		return "sdio"
	}
	return "unknown"
}

var (
	ErrClosed  = errors.New("port closed")
	ErrOpen    = errors.New("port already open")
	ErrInvalid = errors.New("invalid port index")
)

// Transport is the opened controller device. Reads and writes go to the raw
// descriptor; Close releases it.
type Transport interface {
	Fd() uintptr
	Close() error
}

// Port is the state of one logical channel.
type Port struct {
	idx Index
	hub *Hub
	log scomm.Logger

	// txMu is held for reading by writers to the transport and for writing
	// while the transport is swapped.
	txMu sync.RWMutex
	t    Transport
	fd   int

	bridge *socket.Pair
	cancel *socket.Pair
	epoll  *socket.Epoll

	buf []byte

	started     chan struct{}
	readerDone  chan struct{}
	reactorDone chan struct{}

	running     atomic.Bool
	busy        atomic.Bool
	driverState atomic.Bool
}

func newPort(h *Hub, idx Index) *Port {
	return &Port{
		idx: idx,
		hub: h,
		fd:  -1,
		log: h.log.ChildLogger(map[string]interface{}{"port": int(idx)}),
	}
}

// Ready reports whether the port accepts forwarded traffic.
func (p *Port) Ready() bool { return p.driverState.Load() }

// transmit writes b to the transport, giving up silently once the port stops
// being ready.
func (p *Port) transmit(b []byte) {
	p.txMu.RLock()
	defer p.txMu.RUnlock()

	for len(b) > 0 && p.driverState.Load() {
		n, err := writeFd(p.fd, b)
		if err != nil {
			p.log.Errorf("write to controller: %v", err)
			return
		}
		b = b[n:]
	}
}
