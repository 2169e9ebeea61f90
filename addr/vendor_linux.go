package addr

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/rigado/scomm/sliceops"
)

const (
	vendorReqTag = 0x56524551
	vendorBtID   = 4

	// _IOW('v', 1, unsigned int)
	vendorReadIO = 0x40047601
)

// ReadVendorStorage reads the bluetooth address from a platform vendor
// storage node. Storage keeps the address most significant byte first.
func ReadVendorStorage(path string) (Addr, error) {
	var a Addr

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return a, errors.Wrapf(err, "can't open %s", path)
	}
	defer unix.Close(fd)

	// tag u32, id u16, len u16, data
	req := make([]byte, 64)
	binary.LittleEndian.PutUint32(req[0:], vendorReqTag)
	binary.LittleEndian.PutUint16(req[4:], vendorBtID)
	binary.LittleEndian.PutUint16(req[6:], uint16(len(a)))

	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), vendorReadIO, uintptr(unsafe.Pointer(&req[0]))); ep != 0 {
		return a, errors.Wrap(ep, "vendor storage read")
	}

	sliceops.SwapInto(a[:], req[8:8+len(a)])
	return a, nil
}
