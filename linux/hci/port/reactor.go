//go:build linux
// +build linux

package port

import (
	"github.com/rigado/scomm/linux/hci/h4"
)

// readHost reads exactly one frame from the host bridge and forwards it to
// the controller. It runs on the port 0 reactor.
func (h *Hub) readHost(ctx interface{}) error {
	p := ctx.(*Port)
	fd := p.bridge.Bridge()

	f := make([]byte, 1, 16)
	if err := readFull(fd, f); err != nil {
		return err
	}
	if !h4.ToController.Valid(f[0]) {
		p.log.Errorf("invalid packet type 0x%02x from host", f[0])
		return nil
	}

	hl, _ := h4.HeaderLen(f[0])
	f = append(f, make([]byte, hl)...)
	if err := readFull(fd, f[1:]); err != nil {
		return err
	}

	pl, _ := h4.PayloadLen(f)
	if pl > 0 {
		f = append(f, make([]byte, pl)...)
		if err := readFull(fd, f[1+hl:]); err != nil {
			return err
		}
	}

	frame := h4.Frame(f)
	p.log.Debugf("host: %v", frame)

	h.capture.Capture(frame, false)
	h.wakeController()
	h.ports[h.route(frame.Type())].transmit(frame)
	return nil
}

// route picks the destination port for a host packet.
func (h *Hub) route(t byte) Index {
	if h.Mode() != ModeSDIO {
		return CmdEvt
	}
	switch t {
	case h4.ACLPacket:
		return ACL
	case h4.SCOPacket:
		return Audio
	case h4.ISOPacket:
		return ISO
	}
	return CmdEvt
}
