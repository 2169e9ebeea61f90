// Package addr resolves the device address programmed during bootstrap.
package addr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Addr is a device address in the byte order the controller expects.
type Addr [6]byte

// ParseAddr parses "aa:bb:cc:dd:ee:ff" (colons optional).
func ParseAddr(s string) (Addr, error) {
	var a Addr
	hexStr := strings.Replace(s, ":", "", -1)

	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return a, errors.Wrapf(err, "error decoding address %q", s)
	}
	if len(b) != len(a) {
		return a, errors.Errorf("address %q: expected 6 bytes, got %d", s, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Valid reports whether any byte of the address is set.
func (a Addr) Valid() bool {
	return a != Addr{}
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}
