// Package fwcfg drives the controller bootstrap: reset, version query, NV
// upload and address programming.
package fwcfg

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/addr"
	"github.com/rigado/scomm/linux/hci/cmd"
	"github.com/rigado/scomm/linux/hci/evt"
)

// ErrRejected is reported when the host refuses a command.
var ErrRejected = errors.New("command rejected by host")

// Host transmits bootstrap commands and learns the outcome.
type Host interface {
	// Xmit sends cmd, laid out as [opcode LE16][plen][params], and calls done
	// with the matching Command Complete event. It reports false when the
	// command can't be sent.
	Xmit(opcode uint16, cmd []byte, done func(evt []byte)) bool
	ConfigResult(ok bool)
}

// Resolver supplies the addresses written during bootstrap.
type Resolver interface {
	LocalPart() ([3]byte, bool)
	Address() (addr.Addr, bool)
}

// Machine is the bootstrap state machine. Completions may arrive on any
// goroutine.
type Machine struct {
	mu    sync.Mutex
	host  Host
	res   Resolver
	dir   string
	log   scomm.Logger
	state State

	chip    uint16
	image   nvImage
	f       *os.File
	r       *bufio.Reader
	idx     uint8
	pending uint16
}

// New returns an idle machine reading NV binaries from dir.
func New(host Host, res Resolver, dir string) *Machine {
	return &Machine{
		host: host,
		res:  res,
		dir:  dir,
		log:  scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "fwcfg"}),
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ChipID returns the identity detected by the last bootstrap. Unknown chips
// report ChipSV6160, whose image they share.
func (m *Machine) ChipID() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chip
}

// outcome of a single step, acted on without the lock held
type step struct {
	opcode uint16
	buf    []byte
	done   bool
	ok     bool
}

// Start resets the machine and sends Reset. A bootstrap already in
// progress is abandoned.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.state != Init {
		m.log.Warnf("restarting from %v", m.state)
	}
	m.closeFile()
	m.chip = 0
	m.idx = 0
	m.state = Start
	s := m.send(&cmd.Reset{})
	m.mu.Unlock()

	if !m.do(s) {
		return ErrRejected
	}
	return nil
}

// CommandComplete advances the machine with a Command Complete event
// (event code first, no packet type byte).
func (m *Machine) CommandComplete(b []byte) {
	m.mu.Lock()
	s := m.advance(evt.CommandComplete(b))
	m.mu.Unlock()
	m.do(s)
}

// do carries out a step. It reports false if a command was rejected.
func (m *Machine) do(s step) bool {
	if s.buf != nil {
		if m.host.Xmit(s.opcode, s.buf, m.CommandComplete) {
			return true
		}
		m.mu.Lock()
		s = m.fail(errors.Wrapf(ErrRejected, "opcode 0x%04x", s.opcode))
		m.mu.Unlock()
	}
	if s.done {
		m.host.ConfigResult(s.ok)
	}
	return !s.done || s.ok
}

func (m *Machine) advance(e evt.CommandComplete) step {
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return m.fail(errors.Errorf("malformed command complete % x", []byte(e)))
	}
	if m.state == Init {
		m.log.Debugf("idle, ignoring completion of 0x%04x", op)
		return step{}
	}
	if op != m.pending {
		m.log.Warnf("%v: unexpected completion of 0x%04x, waiting for 0x%04x", m.state, op, m.pending)
		return step{}
	}
	if st := e.Status(); st != 0 {
		return m.fail(errors.Errorf("opcode 0x%04x failed, status 0x%02x", op, st))
	}

	switch m.state {
	case Start:
		m.state = ReadVersion
		return m.send(&cmd.ReadLocalVersionInformation{})

	case ReadVersion:
		chip, err := e.ChipIDWErr()
		if err != nil {
			return m.fail(errors.Wrap(err, "version reply"))
		}
		if err := m.openImage(chip); err != nil {
			return m.fail(err)
		}
		m.state = NvSend
		return m.nextChunk()

	case NvSend:
		return m.nextChunk()

	case WriteBdAddr:
		return m.writeBdAddr()

	case NvSendComplete:
		m.log.Infof("bootstrap complete, chip 0x%04x", m.chip)
		m.state = Init
		return step{done: true, ok: true}
	}

	m.log.Warnf("completion of 0x%04x in state %v", op, m.state)
	return step{}
}

func (m *Machine) openImage(chip uint16) error {
	m.chip, m.image = imageFor(chip)
	path := filepath.Join(m.dir, m.image.file)
	m.log.Infof("chip 0x%04x (reported 0x%04x), nv %s", m.chip, chip, path)

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "can't open nv file")
	}
	m.f = f
	m.r = bufio.NewReader(f)
	m.idx = 0
	if m.image.skip > 0 {
		m.r.Discard(m.image.skip)
	}
	return nil
}

func (m *Machine) nextChunk() step {
	local, localOK := m.res.LocalPart()

	var data []byte
	var eof bool
	var err error
	if m.image.tlv {
		data, eof, err = readTLV(m.r, local, localOK)
	} else {
		data, eof, err = readBlock(m.r, m.idx, local, localOK)
	}
	if err != nil {
		return m.fail(err)
	}

	if eof {
		m.closeFile()
		m.state = WriteBdAddr
	}
	if len(data) == 0 {
		return m.writeBdAddr()
	}

	c := &cmd.NVDS{Index: m.idx, Data: data}
	m.idx++
	m.log.Debugf("%v", c)
	return m.send(c)
}

func (m *Machine) writeBdAddr() step {
	a, ok := m.res.Address()
	if !ok {
		m.log.Infof("no device address, bootstrap complete")
		m.state = Init
		return step{done: true, ok: true}
	}
	m.log.Infof("device address %v", a)
	m.state = NvSendComplete
	return m.send(&cmd.WriteBDAddr{Addr: a})
}

func (m *Machine) send(c cmd.Command) step {
	b, err := cmd.Build(c)
	if err != nil {
		return m.fail(err)
	}
	m.pending = uint16(c.OpCode())
	return step{opcode: m.pending, buf: b}
}

func (m *Machine) fail(err error) step {
	m.log.Errorf("bootstrap failed in %v: %v", m.state, err)
	m.closeFile()
	m.state = Init
	m.pending = 0
	return step{done: true, ok: false}
}

func (m *Machine) closeFile() {
	if m.f != nil {
		m.f.Close()
	}
	m.f = nil
	m.r = nil
}
