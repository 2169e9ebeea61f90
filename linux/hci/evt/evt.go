package evt

// Event codes.
const (
	CommandCompleteCode = 0x0E
	HardwareErrorCode   = 0x10
)

// CommandComplete is a Command Complete event as delivered to a completion
// callback: event code, parameter length, then the parameters. It carries no
// H4 type byte.
//
//     0E len ncmd opcode(LE16) status return...
type CommandComplete []byte

func (e CommandComplete) EventCode() uint8 {
	v, _ := e.EventCodeWErr()
	return v
}

func (e CommandComplete) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

// ChipID reads the chip identity out of a Read Local Version reply.
func (e CommandComplete) ChipID() uint16 {
	v, _ := e.ChipIDWErr()
	return v
}

// HardwareError returns an H4 framed Hardware Error event.
func HardwareError(code uint8) []byte {
	return []byte{0x04, HardwareErrorCode, 0x01, code}
}
