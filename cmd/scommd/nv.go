//go:build linux
// +build linux

package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/rigado/scomm/addr"
	"github.com/rigado/scomm/linux/hci/cmd"
	"github.com/rigado/scomm/linux/hci/fwcfg"
)

var opNames = map[uint16]string{
	cmd.ResetOpCode:                       "Reset",
	cmd.ReadLocalVersionInformationOpCode: "Read Local Version Information",
	cmd.NVDSOpCode:                        "NVDS",
	cmd.WriteBDAddrOpCode:                 "Write BD Addr",
}

// dryHost plays a controller that accepts every command and reports chip.
type dryHost struct {
	chip  uint16
	queue []func()
	ok    *bool
}

func (h *dryHost) Xmit(opcode uint16, b []byte, done func([]byte)) bool {
	name, ok := opNames[opcode]
	if !ok {
		name = fmt.Sprintf("0x%04x", opcode)
	}
	fmt.Printf("%-32s %3d  %s\n", name, b[2], hex.EncodeToString(b[3:]))

	e := []byte{0x0e, 0x0c, 0x01, 0, 0, 0x00, 0x0b, 0, 0, 0x0b, 0, 0, 0, 0}
	binary.LittleEndian.PutUint16(e[3:], opcode)
	binary.LittleEndian.PutUint16(e[7:], h.chip)
	h.queue = append(h.queue, func() { done(e) })
	return true
}

func (h *dryHost) ConfigResult(ok bool) { h.ok = &ok }

func (h *dryHost) run() {
	for len(h.queue) > 0 && h.ok == nil {
		fn := h.queue[0]
		h.queue = h.queue[1:]
		fn()
	}
}

// localOnly resolves the persisted local part but never a full address.
type localOnly struct {
	s *addr.Store
}

func (r localOnly) LocalPart() ([3]byte, bool) {
	if r.s == nil {
		return [3]byte{}, false
	}
	return r.s.LocalPart()
}

func (r localOnly) Address() (addr.Addr, bool) { return addr.Addr{}, false }

func nvCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	chip, err := strconv.ParseUint(c.String("chip"), 0, 16)
	if err != nil {
		return errors.Wrap(err, "invalid chip")
	}

	var res localOnly
	if dir := c.String("addr-dir"); dir != "" {
		res.s = addr.New(dir)
	}

	h := &dryHost{chip: uint16(chip)}
	m := fwcfg.New(h, res, cfg.NVDir)
	if err := m.Start(); err != nil {
		return err
	}
	h.run()

	if h.ok == nil || !*h.ok {
		return errors.Errorf("nv download from %s failed", cfg.NVDir)
	}
	return nil
}

func addrCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s := addr.New(cfg.LogDir())
	if l, ok := s.LocalPart(); ok {
		fmt.Printf("local part  % x\n", l[:])
	} else {
		fmt.Println("local part  unavailable")
	}
	if a, ok := s.Address(); ok {
		fmt.Printf("address     %v\n", a)
	} else {
		fmt.Println("address     none, Write BD Addr is skipped")
	}
	return nil
}
