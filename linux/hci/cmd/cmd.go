package cmd

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Opcodes of the commands issued during bootstrap.
const (
	ResetOpCode                       = 0x0C03
	ReadLocalVersionInformationOpCode = 0x1001
	NVDSOpCode                        = 0xFC80
	WriteBDAddrOpCode                 = 0xFC82
	WriteOSTypeOpCode                 = 0xFC83
	WriteBTStateOpCode                = 0xFE80
)

// MaxParamLen is the largest parameter block an HCI command can carry.
const MaxParamLen = 255

// Command is an HCI command that knows its opcode and can marshal its
// parameters.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// Build lays out c as [opcode LE16][plen][params], without the H4 type byte.
func Build(c Command) ([]byte, error) {
	if c.Len() > MaxParamLen {
		return nil, errors.Errorf("%v: param len %d too long", c, c.Len())
	}
	b := make([]byte, 3+c.Len())
	binary.LittleEndian.PutUint16(b, uint16(c.OpCode()))
	b[2] = byte(c.Len())
	if err := c.Marshal(b[3:]); err != nil {
		return nil, errors.Wrapf(err, "can't marshal %v", c)
	}
	return b, nil
}

// Packet returns c framed for the wire, type byte included.
func Packet(c Command) ([]byte, error) {
	b, err := Build(c)
	if err != nil {
		return nil, err
	}
	return append([]byte{0x01}, b...), nil
}

// Reset implements Reset (0x03|0x0003) [Vol 2, Part E, 7.3.2]
type Reset struct{}

func (c *Reset) OpCode() int          { return ResetOpCode }
func (c *Reset) Len() int             { return 0 }
func (c *Reset) Marshal([]byte) error { return nil }
func (c *Reset) String() string       { return "Reset (0x03|0x0003)" }

// ReadLocalVersionInformation implements Read Local Version Information (0x04|0x0001) [Vol 2, Part E, 7.4.1]
type ReadLocalVersionInformation struct{}

func (c *ReadLocalVersionInformation) OpCode() int          { return ReadLocalVersionInformationOpCode }
func (c *ReadLocalVersionInformation) Len() int             { return 0 }
func (c *ReadLocalVersionInformation) Marshal([]byte) error { return nil }
func (c *ReadLocalVersionInformation) String() string {
	return "Read Local Version Information (0x04|0x0001)"
}

// NVDS carries one chunk of the non-volatile configuration.
type NVDS struct {
	Index uint8
	Data  []byte
}

func (c *NVDS) OpCode() int { return NVDSOpCode }
func (c *NVDS) Len() int    { return 2 + len(c.Data) }

func (c *NVDS) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return io.ErrShortBuffer
	}
	b[0] = c.Index
	b[1] = byte(len(c.Data))
	copy(b[2:], c.Data)
	return nil
}

func (c *NVDS) String() string {
	return fmt.Sprintf("NVDS chunk %d (%d bytes)", c.Index, len(c.Data))
}

// WriteBDAddr sets the public device address.
type WriteBDAddr struct {
	Addr [6]byte
}

func (c *WriteBDAddr) OpCode() int { return WriteBDAddrOpCode }
func (c *WriteBDAddr) Len() int    { return 6 }

func (c *WriteBDAddr) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return io.ErrShortBuffer
	}
	copy(b, c.Addr[:])
	return nil
}

func (c *WriteBDAddr) String() string {
	return fmt.Sprintf("Write BD Addr (% x)", c.Addr)
}

// WriteOSType reports the host operating system to the firmware.
type WriteOSType struct {
	Type uint8
}

func (c *WriteOSType) OpCode() int { return WriteOSTypeOpCode }
func (c *WriteOSType) Len() int    { return 1 }

func (c *WriteOSType) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return io.ErrShortBuffer
	}
	b[0] = c.Type
	return nil
}

func (c *WriteOSType) String() string { return fmt.Sprintf("Write OS Type (%d)", c.Type) }

// WriteBTState tells the controller the host is going away.
type WriteBTState struct {
	State uint8
}

func (c *WriteBTState) OpCode() int { return WriteBTStateOpCode }
func (c *WriteBTState) Len() int    { return 1 }

func (c *WriteBTState) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return io.ErrShortBuffer
	}
	b[0] = c.State
	return nil
}

func (c *WriteBTState) String() string { return fmt.Sprintf("Write BT State (%d)", c.State) }
