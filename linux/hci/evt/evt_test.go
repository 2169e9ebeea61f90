package evt

import (
	"bytes"
	"testing"
)

func TestCommandComplete(t *testing.T) {
	// Read Local Version reply, chip 0x5301
	e := CommandComplete{0x0e, 0x0c, 0x01, 0x01, 0x10, 0x00, 0x0b, 0x01, 0x53, 0x0b, 0x00, 0x00, 0x00, 0x00}

	if e.EventCode() != CommandCompleteCode {
		t.Fatalf("event code %02x", e.EventCode())
	}
	if e.CommandOpcode() != 0x1001 {
		t.Fatalf("opcode %04x", e.CommandOpcode())
	}
	if e.Status() != 0 {
		t.Fatalf("status %02x", e.Status())
	}
	if e.ChipID() != 0x5301 {
		t.Fatalf("chip id %04x", e.ChipID())
	}
	if e.NumHCICommandPackets() != 1 {
		t.Fatalf("ncmd %d", e.NumHCICommandPackets())
	}
}

func TestCommandCompleteShort(t *testing.T) {
	e := CommandComplete{0x0e, 0x03, 0x01, 0x03}
	if _, err := e.CommandOpcodeWErr(); err == nil {
		t.Fatal("expected index error")
	}
	if v, err := e.StatusWErr(); err == nil || v != 0xff {
		t.Fatalf("expected default status, got %02x %v", v, err)
	}
	if _, err := e.ChipIDWErr(); err == nil {
		t.Fatal("expected index error")
	}
}

func TestHardwareError(t *testing.T) {
	if b := HardwareError(0x10); !bytes.Equal(b, []byte{0x04, 0x10, 0x01, 0x10}) {
		t.Fatalf("got % x", b)
	}
}
