//go:build linux
// +build linux

package port

import (
	"io"

	"golang.org/x/sys/unix"
)

func readFd(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Read(fd, b)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func writeFd(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return n, err
	}
}

// readFull fills b, retrying short reads. A closed peer is io.EOF.
func readFull(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := readFd(fd, b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.EOF
		}
		b = b[n:]
	}
	return nil
}
