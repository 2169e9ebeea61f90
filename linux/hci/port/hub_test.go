//go:build linux
// +build linux

package port

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rigado/scomm/linux/hci/h4"
)

var (
	resetCmd      = []byte{0x01, 0x03, 0x0c, 0x00}
	resetComplete = []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
)

func TestOpenCloseNoLeak(t *testing.T) {
	openFds(t)
	before := openFds(t)

	tr, peer := newLink(t)
	h := NewHub(Config{Mode: ModeUART})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	if host < 0 || !h.Port(CmdEvt).Ready() {
		t.Fatalf("port not ready, host fd %d", host)
	}

	start := time.Now()
	if err := h.Close(CmdEvt); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d > pollInterval+time.Second {
		t.Fatalf("close took %v", d)
	}
	if h.IsOpen(CmdEvt) || h.Port(CmdEvt).Ready() {
		t.Fatal("port still open")
	}

	// only the controller's end of the link should remain
	if after := openFds(t); after != before+1 {
		t.Fatalf("fd leak: %d open before, %d after (peer %d)", before, after, peer)
	}

	if err := h.Close(CmdEvt); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenTwice(t *testing.T) {
	tr, _ := newLink(t)
	h := NewHub(Config{})
	if _, err := h.Open(ACL, tr); err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	tr2, _ := newLink(t)
	if _, err := h.Open(ACL, tr2); err != ErrOpen {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	tr2.Close()

	if _, err := h.Open(Index(7), tr2); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestControllerToHost(t *testing.T) {
	rec := &recorder{}
	tr, ctrl := newLink(t)
	h := NewHub(Config{Capture: rec})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	write(t, ctrl, resetComplete)
	if got := readN(t, host, len(resetComplete)); !bytes.Equal(got, resetComplete) {
		t.Fatalf("host got % x", got)
	}

	waitFor(t, func() bool { return len(rec.get()) == 1 })
	r := rec.get()[0]
	if !r.received || !bytes.Equal(r.frame, resetComplete) {
		t.Fatalf("bad capture %+v", r)
	}
}

func TestReassemblyAtEverySplit(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	frames := [][]byte{
		resetComplete,
		{0x02, 0x40, 0x20, 0x05, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
	}

	for _, f := range frames {
		for i := 1; i < len(f); i++ {
			write(t, ctrl, f[:i])
			time.Sleep(2 * time.Millisecond)
			write(t, ctrl, f[i:])

			if got := readN(t, host, len(f)); !bytes.Equal(got, f) {
				t.Fatalf("split at %d: got % x, expected % x", i, got, f)
			}
		}
	}
}

func TestResyncDropsNoise(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	// a command type byte is noise in this direction
	write(t, ctrl, append([]byte{0xff, 0x01}, resetComplete...))
	if got := readN(t, host, len(resetComplete)); !bytes.Equal(got, resetComplete) {
		t.Fatalf("host got % x", got)
	}
	expectQuiet(t, host, 50*time.Millisecond)
}

func TestMultipleFramesInOneRead(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	acl := []byte{0x02, 0x01, 0x00, 0x01, 0x00, 0xaa}
	var b []byte
	b = append(b, resetComplete...)
	b = append(b, acl...)
	b = append(b, resetComplete...)
	write(t, ctrl, b)

	if got := readN(t, host, len(b)); !bytes.Equal(got, b) {
		t.Fatalf("host got % x", got)
	}
}

func TestVendorLogToDiag(t *testing.T) {
	diag := &syncBuffer{}
	rec := &recorder{}
	tr, ctrl := newLink(t)
	h := NewHub(Config{Diag: diag, Capture: rec})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	vlog := []byte{0x07, 0x03, 0x02, 0x00, 0xde, 0xad}
	write(t, ctrl, append(append([]byte(nil), vlog...), resetComplete...))

	if got := readN(t, host, len(resetComplete)); !bytes.Equal(got, resetComplete) {
		t.Fatalf("host got % x", got)
	}
	if got := diag.Bytes(); !bytes.Equal(got, vlog) {
		t.Fatalf("diag got % x", got)
	}
	if n := len(rec.get()); n != 1 {
		t.Fatalf("expected vendor log not captured, got %d records", n)
	}
}

func TestHostToController(t *testing.T) {
	rec := &recorder{}
	tr, ctrl := newLink(t)
	h := NewHub(Config{Capture: rec})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	// invalid type byte from the host is dropped
	write(t, host, []byte{0x04})
	write(t, host, resetCmd)
	if got := readN(t, ctrl, len(resetCmd)); !bytes.Equal(got, resetCmd) {
		t.Fatalf("controller got % x", got)
	}

	write(t, ctrl, resetComplete)
	readN(t, host, len(resetComplete))

	waitFor(t, func() bool { return len(rec.get()) == 2 })
	rs := rec.get()
	if rs[0].received || !bytes.Equal(rs[0].frame, resetCmd) {
		t.Fatalf("bad sent capture %+v", rs[0])
	}
	if !rs[1].received || !bytes.Equal(rs[1].frame, resetComplete) {
		t.Fatalf("bad received capture %+v", rs[1])
	}
}

func TestRoutingSDIO(t *testing.T) {
	h := NewHub(Config{Mode: ModeSDIO})
	var ctrl [NumPorts]int
	var host int
	for i := 0; i < NumPorts; i++ {
		tr, c := newLink(t)
		ctrl[i] = c
		fd, err := h.Open(Index(i), tr)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			host = fd
		}
	}
	defer h.CloseAll()

	tests := []struct {
		frame []byte
		dst   Index
	}{
		{resetCmd, CmdEvt},
		{[]byte{0x02, 0x01, 0x00, 0x02, 0x00, 0xaa, 0xbb}, ACL},
		{[]byte{0x03, 0x01, 0x00, 0x01, 0xcc}, Audio},
		{[]byte{0x05, 0x01, 0x00, 0x01, 0x00, 0xdd}, ISO},
	}
	for _, tt := range tests {
		write(t, host, tt.frame)
		if got := readN(t, ctrl[tt.dst], len(tt.frame)); !bytes.Equal(got, tt.frame) {
			t.Fatalf("%v got % x", tt.dst, got)
		}
	}
	for i := range ctrl {
		expectQuiet(t, ctrl[i], 20*time.Millisecond)
	}
}

func TestRoutingSinglePort(t *testing.T) {
	h := NewHub(Config{Mode: ModeUSB})
	tr0, ctrl0 := newLink(t)
	host, err := h.Open(CmdEvt, tr0)
	if err != nil {
		t.Fatal(err)
	}
	tr1, ctrl1 := newLink(t)
	if _, err := h.Open(ACL, tr1); err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	acl := []byte{0x02, 0x01, 0x00, 0x01, 0x00, 0xaa}
	write(t, host, acl)
	if got := readN(t, ctrl0, len(acl)); !bytes.Equal(got, acl) {
		t.Fatalf("port 0 got % x", got)
	}
	expectQuiet(t, ctrl1, 20*time.Millisecond)
}

func TestConcurrentWriters(t *testing.T) {
	h := NewHub(Config{Mode: ModeSDIO})
	var ctrl [NumPorts]int
	var host int
	for i := 0; i < NumPorts; i++ {
		tr, c := newLink(t)
		ctrl[i] = c
		fd, err := h.Open(Index(i), tr)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			host = fd
		}
	}
	defer h.CloseAll()

	// 64 byte ACL frames, payload filled with the port number
	frames := make([][]byte, NumPorts)
	for i := range frames {
		f := []byte{0x02, byte(i), 0x00, 59, 0x00}
		f = append(f, bytes.Repeat([]byte{byte(i)}, 59)...)
		frames[i] = f
	}

	const rounds = 20
	var wg sync.WaitGroup
	for i := range frames {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				for b := frames[i]; len(b) > 0; {
					n, err := unix.Write(ctrl[i], b)
					if err != nil {
						t.Errorf("port %d: %v", i, err)
						return
					}
					b = b[n:]
				}
			}
		}(i)
	}

	got := readN(t, host, NumPorts*rounds*64)
	wg.Wait()

	seen := map[byte]int{}
	for len(got) > 0 {
		r := h4.Next(got, h4.ToHost)
		if r.Kind != h4.Complete {
			t.Fatalf("stream corrupted at % x", got[:8])
		}
		if !bytes.Equal(r.Frame, frames[r.Frame[1]]) {
			t.Fatalf("interleaved frame % x", []byte(r.Frame))
		}
		seen[r.Frame[1]]++
		got = r.Rest
	}
	for i := range frames {
		if seen[byte(i)] != rounds {
			t.Fatalf("port %d: %d frames, expected %d", i, seen[byte(i)], rounds)
		}
	}
}

func TestHardwareError(t *testing.T) {
	tr, _ := newLink(t)
	h := NewHub(Config{})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	h.hardwareError(h.Port(CmdEvt))
	if got := readN(t, host, 4); !bytes.Equal(got, []byte{0x04, 0x10, 0x01, 0x10}) {
		t.Fatalf("host got % x", got)
	}
}

func TestHangupMarksNotReady(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	if _, err := h.Open(ACL, tr); err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	p := h.Port(ACL)
	if !p.Ready() {
		t.Fatal("not ready")
	}

	// the controller going away ends the reader
	unix.Shutdown(ctrl, unix.SHUT_RDWR)
	waitFor(t, func() bool { return !p.Ready() && p.readerExited() })
}

func TestWake(t *testing.T) {
	for _, tt := range []struct {
		cfg Config
		exp []byte
	}{
		{Config{Mode: ModeUART}, []byte{0, 1, 2}},
		{Config{Mode: ModeUART, NoSleep: true}, nil},
		{Config{Mode: ModeUART, UartOnly: true}, nil},
		{Config{Mode: ModeUSB}, nil},
	} {
		wake := &syncBuffer{}
		tr, ctrl := newLink(t)
		h := NewHub(tt.cfg)
		h.SetWake(wake)
		host, err := h.Open(CmdEvt, tr)
		if err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 3; i++ {
			write(t, host, resetCmd)
			readN(t, ctrl, len(resetCmd))
		}
		h.CloseAll()

		if got := wake.Bytes(); !bytes.Equal(got, tt.exp) {
			t.Fatalf("%+v: wake got % x, expected % x", tt.cfg, got, tt.exp)
		}
	}
}

func TestTransmit(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	if err := h.Transmit(CmdEvt, resetCmd); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := h.Open(CmdEvt, tr); err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	if err := h.Transmit(CmdEvt, resetCmd); err != nil {
		t.Fatal(err)
	}
	if got := readN(t, ctrl, len(resetCmd)); !bytes.Equal(got, resetCmd) {
		t.Fatalf("controller got % x", got)
	}
}

// dirTransport is a transport that polls readable but fails every read.
func dirTransport(t *testing.T) fdTransport {
	fd, err := unix.Open(t.TempDir(), unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	return fdTransport(fd)
}

func TestReadFailureReportsHardwareError(t *testing.T) {
	h := NewHub(Config{})
	host, err := h.Open(CmdEvt, dirTransport(t))
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	if got := readN(t, host, 4); !bytes.Equal(got, []byte{0x04, 0x10, 0x01, 0x10}) {
		t.Fatalf("host got % x", got)
	}
	p := h.Port(CmdEvt)
	waitFor(t, p.readerExited)
}

func TestReadFailureOnDataPort(t *testing.T) {
	tr, _ := newLink(t)
	h := NewHub(Config{Mode: ModeSDIO})
	host, err := h.Open(CmdEvt, tr)
	if err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	if _, err := h.Open(ACL, dirTransport(t)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, h.Port(ACL).readerExited)
	expectQuiet(t, host, 200*time.Millisecond)
	if h.Port(CmdEvt).readerExited() {
		t.Fatal("port 0 reader exited")
	}
}

// flood writes large events to fd until the write fails.
func flood(fd int) {
	ev := make([]byte, 3+255)
	ev[0], ev[1], ev[2] = h4.EventPacket, 0xff, 0xff
	for {
		if _, err := unix.Write(fd, ev); err != nil {
			return
		}
	}
}

func closeWithin(t *testing.T, h *Hub, idx Index, d time.Duration) {
	done := make(chan error, 1)
	go func() { done <- h.Close(idx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(d):
		t.Fatalf("close of port %v blocked for %v", idx, d)
	}
}

func TestCloseWhileHostStalled(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	if _, err := h.Open(CmdEvt, tr); err != nil {
		t.Fatal(err)
	}

	// the host never reads, so the bridge fills up
	go flood(ctrl)
	time.Sleep(300 * time.Millisecond)

	closeWithin(t, h, CmdEvt, 3*time.Second)
	if h.IsOpen(CmdEvt) {
		t.Fatal("port still open")
	}
}

func TestCloseOtherPortWhileHostStalled(t *testing.T) {
	tr0, _ := newLink(t)
	tr1, ctrl1 := newLink(t)
	tr2, ctrl2 := newLink(t)
	h := NewHub(Config{Mode: ModeSDIO})
	defer h.CloseAll()
	for i, tr := range []fdTransport{tr0, tr1, tr2} {
		if _, err := h.Open(Index(i), tr); err != nil {
			t.Fatal(err)
		}
	}

	go flood(ctrl1)
	time.Sleep(300 * time.Millisecond)

	// port 2's reader now waits behind port 1 for the host path
	write(t, ctrl2, resetComplete)
	time.Sleep(50 * time.Millisecond)

	closeWithin(t, h, Audio, 3*time.Second)
	closeWithin(t, h, ACL, 3*time.Second)
}

func TestHalfCloseMarksNotReady(t *testing.T) {
	tr, ctrl := newLink(t)
	h := NewHub(Config{})
	if _, err := h.Open(ACL, tr); err != nil {
		t.Fatal(err)
	}
	defer h.CloseAll()

	// end of stream without a full hangup
	unix.Shutdown(ctrl, unix.SHUT_WR)
	p := h.Port(ACL)
	waitFor(t, func() bool { return !p.Ready() && p.readerExited() })
}
