//go:build !linux
// +build !linux

package h4

import (
	"fmt"
)

// OpenSerial is a dummy function for non-Linux platform.
func OpenSerial(path string, cfg SerialConfig) (*Serial, error) {
	return nil, fmt.Errorf("only available on linux")
}
