package h4

import (
	"encoding/binary"
	"fmt"
)

// HCI packet types, byte 0 of every H4 frame.
const (
	CommandPacket   byte = 0x01
	ACLPacket       byte = 0x02
	SCOPacket       byte = 0x03
	EventPacket     byte = 0x04
	ISOPacket       byte = 0x05
	VendorLogPacket byte = 0x07
)

// header bytes following the type byte
var headerLens = [...]int{
	CommandPacket:   3,
	ACLPacket:       4,
	SCOPacket:       3,
	EventPacket:     2,
	ISOPacket:       4,
	VendorLogPacket: 3,
}

const (
	commonLengthOffset    = 3
	eventLengthOffset     = 2
	vendorLogLengthOffset = 2

	// MaxFrameLen bounds a reassembly buffer: type + ACL header + 16-bit payload.
	MaxFrameLen = 1 + 4 + 0xffff
)

// Direction selects which packet types may legally start a frame.
type Direction int

const (
	// ToHost is controller to host traffic.
	ToHost Direction = iota
	// ToController is host to controller traffic.
	ToController
)

func (d Direction) String() string {
	if d == ToHost {
		return "to-host"
	}
	return "to-controller"
}

// Valid reports whether t starts a frame travelling in direction d.
func (d Direction) Valid(t byte) bool {
	switch t {
	case ACLPacket, SCOPacket, ISOPacket:
		return true
	case EventPacket, VendorLogPacket:
		return d == ToHost
	case CommandPacket:
		return d == ToController
	default:
		return false
	}
}

// HeaderLen returns the number of header bytes following packet type t.
func HeaderLen(t byte) (int, error) {
	if int(t) >= len(headerLens) || headerLens[t] == 0 {
		return 0, fmt.Errorf("invalid packet type 0x%02x", t)
	}
	return headerLens[t], nil
}

// PayloadLen returns the declared payload length of the frame starting at
// b[0]. b must hold at least the type byte and the full header.
func PayloadLen(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("not enough bytes")
	}
	hl, err := HeaderLen(b[0])
	if err != nil {
		return 0, err
	}
	if len(b) < 1+hl {
		return 0, fmt.Errorf("not enough bytes")
	}

	switch b[0] {
	case ACLPacket, ISOPacket:
		return int(binary.LittleEndian.Uint16(b[commonLengthOffset:])), nil
	case EventPacket:
		return int(b[eventLengthOffset]), nil
	case VendorLogPacket:
		return int(binary.LittleEndian.Uint16(b[vendorLogLengthOffset:])), nil
	default:
		// command, sco
		return int(b[commonLengthOffset]), nil
	}
}

// Frame is one complete H4 packet: type byte, header and payload.
type Frame []byte

func (f Frame) Type() byte {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}

func (f Frame) Len() int { return len(f) }

func (f Frame) String() string {
	n := len(f)
	if n > 32 {
		return fmt.Sprintf("[% X ...] (%d)", []byte(f[:32]), n)
	}
	return fmt.Sprintf("[% X] (%d)", []byte(f), n)
}

// Kind tags a decode Result.
type Kind int

const (
	// NeedMore means Result.Need more bytes are required before anything can
	// be decided.
	NeedMore Kind = iota
	// Complete means Result.Frame holds a full frame and Result.Rest the bytes
	// following it.
	Complete
	// Resync means the first Result.Skip bytes are noise and must be dropped.
	Resync
)

// Result of a single decode step.
type Result struct {
	Kind  Kind
	Need  int
	Frame Frame
	Rest  []byte
	Skip  int
}

// Next decodes at most one frame from the front of b. It never copies; Frame
// and Rest alias b.
func Next(b []byte, d Direction) Result {
	if len(b) == 0 {
		return Result{Kind: NeedMore, Need: 1}
	}

	if !d.Valid(b[0]) {
		return Result{Kind: Resync, Skip: findStart(b, d)}
	}

	hl, _ := HeaderLen(b[0])
	if len(b) < 1+hl {
		return Result{Kind: NeedMore, Need: 1 + hl - len(b)}
	}

	pl, _ := PayloadLen(b)
	tl := 1 + hl + pl
	if len(b) < tl {
		return Result{Kind: NeedMore, Need: tl - len(b)}
	}

	return Result{Kind: Complete, Frame: Frame(b[:tl]), Rest: b[tl:]}
}

// findStart returns the index of the first byte that can start a frame, or
// len(b) when there is none.
func findStart(b []byte, d Direction) int {
	for i, v := range b {
		if d.Valid(v) {
			return i
		}
	}
	return len(b)
}
