// Package host is a minimal host side of the bridge: it sends commands,
// matches Command Complete events to them and hands every other frame to a
// handler.
package host

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/linux/hci/cmd"
	"github.com/rigado/scomm/linux/hci/evt"
	"github.com/rigado/scomm/linux/hci/h4"
)

const cmdTimeout = 10 * time.Second

// Link talks HCI over a host bridge descriptor.
type Link struct {
	rwc io.ReadWriteCloser
	log scomm.Logger

	muWrite sync.Mutex

	// Host to Controller command flow, one pending command per opcode
	muSent sync.Mutex
	sent   map[uint16]func([]byte)

	muHandler sync.Mutex
	handler   func(h4.Frame)
	result    func(bool)

	muClose sync.Mutex
	done    chan struct{}
	err     error
}

// New starts reading from rwc.
func New(rwc io.ReadWriteCloser) *Link {
	l := &Link{
		rwc:  rwc,
		log:  scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "host"}),
		sent: map[uint16]func([]byte){},
		done: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// SetHandler sets the receiver of frames that don't complete a command.
func (l *Link) SetHandler(fn func(h4.Frame)) {
	l.muHandler.Lock()
	l.handler = fn
	l.muHandler.Unlock()
}

// OnConfigResult sets the receiver of the bootstrap outcome.
func (l *Link) OnConfigResult(fn func(ok bool)) {
	l.muHandler.Lock()
	l.result = fn
	l.muHandler.Unlock()
}

// ConfigResult forwards a bootstrap outcome to the OnConfigResult receiver.
func (l *Link) ConfigResult(ok bool) {
	l.muHandler.Lock()
	fn := l.result
	l.muHandler.Unlock()
	if fn != nil {
		fn(ok)
	}
}

// Xmit writes a command laid out as [opcode LE16][plen][params] and calls
// done with the Command Complete event that answers it. A command whose
// opcode is already pending is refused.
func (l *Link) Xmit(opcode uint16, b []byte, done func([]byte)) bool {
	if len(b) < 3 || binary.LittleEndian.Uint16(b) != opcode {
		l.log.Errorf("malformed command for opcode 0x%04x", opcode)
		return false
	}

	l.muSent.Lock()
	if _, ok := l.sent[opcode]; ok {
		l.muSent.Unlock()
		l.log.Errorf("command with opcode 0x%04x pending", opcode)
		return false
	}
	l.sent[opcode] = done
	l.muSent.Unlock()

	if err := l.write(append([]byte{h4.CommandPacket}, b...)); err != nil {
		l.log.Errorf("send 0x%04x: %v", opcode, err)
		l.forget(opcode)
		return false
	}
	return true
}

// Send issues c and waits for its Command Complete event.
func (l *Link) Send(c cmd.Command) (evt.CommandComplete, error) {
	b, err := cmd.Build(c)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 1)
	op := uint16(c.OpCode())
	if !l.Xmit(op, b, func(e []byte) { ch <- e }) {
		return nil, errors.Errorf("can't send %v", c)
	}

	// emergency timeout, a controller that doesn't answer is broken
	select {
	case e := <-ch:
		return evt.CommandComplete(e), nil
	case <-l.done:
		l.forget(op)
		return nil, errors.Wrap(l.Err(), "link closed")
	case <-time.After(cmdTimeout):
		l.forget(op)
		return nil, errors.Errorf("no response to %v", c)
	}
}

// Write sends a raw H4 frame.
func (l *Link) Write(f h4.Frame) error {
	return l.write(f)
}

func (l *Link) write(b []byte) error {
	l.muWrite.Lock()
	defer l.muWrite.Unlock()
	for len(b) > 0 {
		n, err := l.rwc.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (l *Link) forget(opcode uint16) {
	l.muSent.Lock()
	delete(l.sent, opcode)
	l.muSent.Unlock()
}

func (l *Link) readLoop() {
	var err error
	defer func() {
		l.log.Debugf("read loop done: %v", err)
		l.close(err)
	}()

	b := make([]byte, 4096)
	var acc []byte
	for {
		var n int
		n, err = l.rwc.Read(b)
		if err != nil {
			return
		}
		acc = append(acc, b[:n]...)
		acc = l.process(acc)
	}
}

// process handles every complete frame in b and returns the remainder.
func (l *Link) process(b []byte) []byte {
	for {
		r := h4.Next(b, h4.ToHost)
		switch r.Kind {
		case h4.Complete:
			l.handle(append(h4.Frame(nil), r.Frame...))
			b = r.Rest
		case h4.Resync:
			l.log.Warnf("dropping %d bytes", r.Skip)
			b = b[r.Skip:]
		default:
			return append(b[:0:0], b...)
		}
	}
}

func (l *Link) handle(f h4.Frame) {
	if f.Type() == h4.EventPacket && len(f) > 1 && f[1] == evt.CommandCompleteCode {
		e := evt.CommandComplete(f[1:])
		op := e.CommandOpcode()

		l.muSent.Lock()
		done, found := l.sent[op]
		delete(l.sent, op)
		l.muSent.Unlock()

		if found {
			done(e)
			return
		}
		// NOP completions only carry flow control
		if op != 0x0000 {
			l.log.Warnf("can't find the cmd for command complete: % X", []byte(f))
		}
	}

	l.muHandler.Lock()
	fn := l.handler
	l.muHandler.Unlock()
	if fn != nil {
		fn(f)
	}
}

// Done is closed once the link stops reading.
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) Err() error {
	l.muClose.Lock()
	defer l.muClose.Unlock()
	return l.err
}

func (l *Link) close(err error) error {
	l.muClose.Lock()
	defer l.muClose.Unlock()
	select {
	case <-l.done:
		return nil
	default:
	}
	l.err = err
	close(l.done)
	return l.rwc.Close()
}

// Close stops the link and closes the descriptor.
func (l *Link) Close() error {
	return l.close(io.EOF)
}
