//go:build linux
// +build linux

package port

import (
	"bytes"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// fdTransport is one end of a socket pair standing in for a device node.
type fdTransport int

func (t fdTransport) Fd() uintptr  { return uintptr(t) }
func (t fdTransport) Close() error { return unix.Close(int(t)) }

// newLink returns a transport for the hub and the controller's end of it.
func newLink(t *testing.T) (fdTransport, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fdTransport(fds[0]), fds[1]
}

func openFds(t *testing.T) int {
	fis, err := ioutil.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatal(err)
	}
	return len(fis)
}

func write(t *testing.T, fd int, b []byte) {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			t.Fatalf("write fd %d: %v", fd, err)
		}
		b = b[n:]
	}
}

// readN reads exactly n bytes from fd or fails after a timeout.
func readN(t *testing.T, fd int, n int) []byte {
	out := make([]byte, 0, n)
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < n {
		wait := time.Until(deadline)
		if wait <= 0 {
			t.Fatalf("fd %d: timeout with %d of %d bytes: % x", fd, len(out), n, out)
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfd, int(wait.Milliseconds())+1); err != nil && err != unix.EINTR {
			t.Fatal(err)
		}
		if pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}
		b := make([]byte, n-len(out))
		m, err := unix.Read(fd, b)
		if err != nil {
			t.Fatal(err)
		}
		if m == 0 {
			t.Fatalf("fd %d: eof with %d of %d bytes", fd, len(out), n)
		}
		out = append(out, b[:m]...)
	}
	return out
}

// expectQuiet fails if fd becomes readable within d.
func expectQuiet(t *testing.T, fd int, d time.Duration) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, _ := unix.Poll(pfd, int(d.Milliseconds()))
	if n > 0 && pfd[0].Revents&unix.POLLIN != 0 {
		b := make([]byte, 64)
		m, _ := unix.Read(fd, b)
		t.Fatalf("fd %d: unexpected data % x", fd, b[:m])
	}
}

type record struct {
	frame    []byte
	received bool
}

type recorder struct {
	mu      sync.Mutex
	records []record
}

func (r *recorder) Capture(f []byte, received bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{append([]byte(nil), f...), received})
}

func (r *recorder) get() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.b.Bytes()...)
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
