package evt

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var errIndex = errors.New("index error")

func (e CommandComplete) EventCodeWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 2, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 3, 0xffff)
}

// StatusWErr returns the first return parameter, 0xff when missing.
func (e CommandComplete) StatusWErr() (uint8, error) {
	return getByte(e, 5, 0xff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	return getBytes(e, 5, -1)
}

func (e CommandComplete) ChipIDWErr() (uint16, error) {
	return getUint16LE(e, 7, 0)
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, errIndex
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, errIndex
	}

	return bytes[start:end], nil
}
