package fwcfg

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Chip identities reported in the Read Local Version reply.
const (
	ChipSV6316 uint16 = 0x5301
	ChipSV6160 uint16 = 0x0017
)

const (
	// BlockSize is the most NV data one NVDS command carries.
	BlockSize = 252

	tlvHeaderLen  = 4
	tripletHdrLen = 3
	tagBDAddr     = 0x01

	// offsets patched in the fixed-block image
	blockAddrOff = 7
	blockFlagOff = 62
	blockFlag    = 0x80
)

// nvImage describes how an NV binary is chunked.
type nvImage struct {
	file string
	skip int
	tlv  bool
}

func imageFor(chip uint16) (uint16, nvImage) {
	if chip == ChipSV6316 {
		return chip, nvImage{file: "sv6316.nvbin", skip: tlvHeaderLen, tlv: true}
	}
	return ChipSV6160, nvImage{file: "sv6160.nvbin"}
}

// readTLV collects whole (tag, x, len) value triplets until the next one
// would push the batch past BlockSize. eof is set once the file holds no
// further complete triplet header.
func readTLV(r *bufio.Reader, local [3]byte, localOK bool) (data []byte, eof bool, err error) {
	data = make([]byte, 0, BlockSize)
	for {
		hdr, err := r.Peek(tripletHdrLen)
		if len(hdr) < tripletHdrLen {
			if err != nil && err != io.EOF {
				return nil, false, errors.Wrap(err, "can't read nv")
			}
			return data, true, nil
		}

		tag, vlen := hdr[0], int(hdr[2])
		if len(data)+tripletHdrLen+vlen > BlockSize {
			if len(data) == 0 {
				return nil, false, errors.Errorf("nv tag 0x%02x: %d byte value exceeds a command", tag, vlen)
			}
			return data, false, nil
		}

		data = append(data, hdr...)
		r.Discard(tripletHdrLen)

		start := len(data)
		data = data[:start+vlen]
		if _, err := io.ReadFull(r, data[start:]); err != nil {
			return nil, false, errors.Errorf("nv tag 0x%02x: short value", tag)
		}

		if tag == tagBDAddr && vlen >= 6 && localOK {
			copy(data[start+3:start+6], local[:])
		}
	}
}

// readBlock reads the next fixed-size block and patches it by position.
func readBlock(r *bufio.Reader, idx uint8, local [3]byte, localOK bool) (data []byte, eof bool, err error) {
	data = make([]byte, BlockSize)
	n, err := io.ReadFull(r, data)
	switch err {
	case nil:
		if _, err := r.Peek(1); err == io.EOF {
			eof = true
		}
	case io.EOF, io.ErrUnexpectedEOF:
		eof = true
	default:
		return nil, false, errors.Wrap(err, "can't read nv")
	}
	data = data[:n]

	switch idx {
	case 0:
		if localOK && n >= blockAddrOff+3 {
			copy(data[blockAddrOff:], local[:])
		}
	case 1:
		if n > blockFlagOff {
			data[blockFlagOff] |= blockFlag
		}
	}
	return data, eof, nil
}
