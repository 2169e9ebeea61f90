//go:build !linux
// +build !linux

package addr

import "github.com/pkg/errors"

func ReadVendorStorage(path string) (Addr, error) {
	return Addr{}, errors.New("vendor storage not supported on this platform")
}
