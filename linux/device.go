//go:build linux
// +build linux

package linux

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/addr"
	"github.com/rigado/scomm/linux/hci/cmd"
	"github.com/rigado/scomm/linux/hci/fwcfg"
	"github.com/rigado/scomm/linux/hci/h4"
	"github.com/rigado/scomm/linux/hci/port"
	"github.com/rigado/scomm/snoop"
)

// btStateSettle is how long the controller gets to act on Write BT State
// before its transport goes away.
const btStateSettle = 15 * time.Millisecond

// Device is the bridge between one host stack and the controller's device
// nodes. It owns the port table, the bootstrap machine and the log sinks.
type Device struct {
	sync.Mutex

	cfg  *scomm.Config
	hub  *port.Hub
	addr *addr.Store
	nv   *fwcfg.Machine
	host fwcfg.Host

	btsnoop *snoop.Btsnoop
	cplog   *snoop.CPLog

	boot *os.File
	wake *os.File

	// openTransport opens the device node backing port idx.
	openTransport func(idx port.Index, path string) (port.Transport, error)

	log scomm.Logger
}

// NewDevice prepares a device for cfg. Sinks that can't be opened are
// disabled rather than failing the device.
func NewDevice(cfg *scomm.Config) (*Device, error) {
	if cfg == nil {
		cfg = scomm.DefaultConfig()
	}
	if len(cfg.DeviceNodes) == 0 || len(cfg.DeviceNodes) > port.NumPorts {
		return nil, errors.Errorf("invalid device node count %d", len(cfg.DeviceNodes))
	}
	scomm.SetDriverLog(cfg.DriverLog)

	d := &Device{
		cfg:  cfg,
		addr: addr.New(cfg.LogDir()),
		log:  scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "device"}),
	}
	d.openTransport = d.openNode

	hc := port.Config{
		Mode:     modeFor(cfg, port.NumPorts),
		UartOnly: cfg.UartOnly,
		NoSleep:  cfg.NoSleep,
	}
	if cfg.SnoopEnabled {
		s, err := snoop.OpenBtsnoop(cfg.SnoopPath, cfg.SnoopSaveLog, cfg.LogSlice)
		if err != nil {
			d.log.Warnf("btsnoop disabled: %v", err)
		} else {
			d.btsnoop = s
			hc.Capture = s
		}
	}
	if cfg.CPLogEnabled {
		c, err := snoop.OpenCPLog(cfg.LogDir(), cfg.LogSlice)
		if err != nil {
			d.log.Warnf("cp log disabled: %v", err)
		} else {
			d.cplog = c
			hc.Diag = c
		}
	}
	d.hub = port.NewHub(hc)
	return d, nil
}

// modeFor picks the mode from the index the port scan stopped at, NumPorts
// when every configured node opened. Stopping at the ACL port or earlier
// means a USB deployment.
func modeFor(cfg *scomm.Config, stop int) port.Mode {
	switch {
	case cfg.Uart:
		return port.ModeUART
	case stop <= int(port.ACL):
		return port.ModeUSB
	default:
		return port.ModeSDIO
	}
}

func (d *Device) openNode(idx port.Index, path string) (port.Transport, error) {
	if d.cfg.Uart && idx == port.CmdEvt {
		return h4.OpenSerial(path, h4.DefaultSerialConfig())
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", path)
	}
	return f, nil
}

// Hub exposes the port table.
func (d *Device) Hub() *port.Hub { return d.hub }

// SetHostAddress records the address the host stack was started with.
func (d *Device) SetHostAddress(a addr.Addr) { d.addr.SetHostAddress(a) }

// Open attaches the configured device node of port idx and returns the host
// end of its bridge.
func (d *Device) Open(idx port.Index) (int, error) {
	if idx < 0 || int(idx) >= len(d.cfg.DeviceNodes) {
		return -1, port.ErrInvalid
	}
	if d.hub.IsOpen(idx) {
		return -1, port.ErrOpen
	}

	path := d.cfg.DeviceNodes[idx]
	t, err := d.openTransport(idx, path)
	if err != nil {
		return -1, err
	}
	fd, err := d.hub.Open(idx, t)
	if err != nil {
		t.Close()
		return -1, errors.Wrapf(err, "can't bridge %s", path)
	}
	return fd, nil
}

// Close detaches port idx.
func (d *Device) Close(idx port.Index) error {
	return d.hub.Close(idx)
}

// OpenAll opens the boot node and every configured port, and returns the
// host end of port 0. Ports after port 0 stop at the first node that fails
// to open; where they stop picks USB or SDIO routing.
func (d *Device) OpenAll() (int, error) {
	d.Lock()
	defer d.Unlock()

	if d.boot == nil && (!d.cfg.Uart || !d.cfg.UartOnly) {
		f, err := os.OpenFile(d.cfg.BootNode, os.O_RDWR, 0)
		if err != nil {
			return -1, errors.Wrap(err, "can't open boot node")
		}
		d.boot = f
	}

	if d.cfg.Uart {
		if !d.cfg.UartOnly {
			w, err := os.OpenFile(d.cfg.WakeNode, os.O_WRONLY, 0)
			if err != nil {
				d.log.Warnf("no wake node: %v", err)
			} else {
				d.wake = w
				d.hub.SetWake(w)
			}
		}
		fd, err := d.Open(port.CmdEvt)
		if err != nil {
			d.closeNodes()
			return -1, err
		}
		return fd, nil
	}

	first := -1
	stop := 0
	for ; stop < port.NumPorts; stop++ {
		if stop >= len(d.cfg.DeviceNodes) {
			continue
		}
		fd, err := d.Open(port.Index(stop))
		if err != nil {
			if stop == 0 {
				d.closeNodes()
				return -1, err
			}
			d.log.Warnf("port %d: %v", stop, err)
			break
		}
		if stop == 0 {
			first = fd
		}
	}
	d.hub.SetMode(modeFor(d.cfg, stop))
	return first, nil
}

// CloseAll tells the controller the host is leaving, then closes every port
// and the boot and wake nodes.
func (d *Device) CloseAll() error {
	d.Lock()
	defer d.Unlock()

	if d.boot != nil {
		if err := d.writeBTState(d.chipID()); err != nil {
			d.log.Warnf("write bt state: %v", err)
		}
	}
	err := d.hub.CloseAll()
	d.closeNodes()
	return err
}

func (d *Device) closeNodes() {
	if d.boot != nil {
		d.boot.Close()
		d.boot = nil
	}
	if d.wake != nil {
		d.hub.SetWake(nil)
		d.wake.Close()
		d.wake = nil
	}
}

// WriteBTState sends Write BT State on port 0 for chips that need it before
// power-down.
func (d *Device) WriteBTState() error {
	return d.writeBTState(d.ChipID())
}

func (d *Device) writeBTState(chip uint16) error {
	if chip != fwcfg.ChipSV6160 {
		return nil
	}
	b, err := cmd.Packet(&cmd.WriteBTState{})
	if err != nil {
		return err
	}
	if err := d.hub.Transmit(port.CmdEvt, b); err != nil {
		return err
	}
	time.Sleep(btStateSettle)
	return nil
}

// ChipID returns the chip identity seen by the last bootstrap, 0 if none
// ran.
func (d *Device) ChipID() uint16 {
	d.Lock()
	defer d.Unlock()
	return d.chipID()
}

func (d *Device) chipID() uint16 {
	if d.nv == nil {
		return 0
	}
	return d.nv.ChipID()
}

// ConfigStart starts the firmware bootstrap, sending commands through host.
func (d *Device) ConfigStart(host fwcfg.Host) error {
	d.Lock()
	if d.nv == nil || d.host != host {
		d.nv = fwcfg.New(host, d.addr, d.cfg.NVDir)
		d.host = host
	}
	nv := d.nv
	d.Unlock()
	return nv.Start()
}

// Cleanup closes the log sinks.
func (d *Device) Cleanup() error {
	var first error
	if err := d.btsnoop.Close(); err != nil {
		first = err
	}
	if err := d.cplog.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
