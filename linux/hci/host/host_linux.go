package host

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Dial attaches a Link to a host bridge descriptor. The descriptor is
// duplicated; fd stays owned by the caller.
func Dial(fd int) (*Link, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dup fd %d", fd)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, errors.Wrap(err, "can't set nonblocking")
	}
	return New(os.NewFile(uintptr(nfd), "hci-host")), nil
}
