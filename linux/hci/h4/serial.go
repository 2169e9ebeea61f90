//go:build linux
// +build linux

package h4

import (
	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/rigado/scomm"
)

type fder interface {
	Fd() uintptr
}

// OpenSerial opens the UART at path with the line settings of cfg and drops
// whatever the controller left in the receive queue.
func OpenSerial(path string, cfg SerialConfig) (*Serial, error) {
	opts, err := cfg.Options(path)
	if err != nil {
		return nil, err
	}

	log := scomm.GetLogger().ChildLogger(map[string]interface{}{"uart": path})
	log.Infof("opening, baud %d, flow control %v", opts.BaudRate, opts.RTSCTSFlowControl)

	rwc, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", path)
	}

	f, ok := rwc.(fder)
	if !ok {
		rwc.Close()
		return nil, errors.Errorf("%s: no file descriptor", path)
	}
	s := &Serial{rwc: rwc, fd: f.Fd(), path: path, cfg: cfg}

	if err := unix.IoctlSetInt(int(s.fd), unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		log.Warnf("flush failed: %v", err)
	}
	log.Debugf("fd %d open", s.fd)

	return s, nil
}
