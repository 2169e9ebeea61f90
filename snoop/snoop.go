// Package snoop writes the HCI capture and controller diagnostic logs.
package snoop

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Capturer records complete H4 frames crossing the bridge.
type Capturer interface {
	Capture(frame []byte, received bool)
}

// DiagWriter receives vendor diagnostic frames from the controller.
type DiagWriter interface {
	Write(b []byte) (int, error)
}

const stampLayout = "2006-01-02-150405"

func fileSize(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

// moveAside renames path to dst, replacing dst. A missing path is not an
// error.
func moveAside(path, dst string) error {
	os.Remove(dst)
	if err := os.Rename(path, dst); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "can't rename %s to %s", path, dst)
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return nil, errors.Wrapf(err, "can't create %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	return f, errors.Wrapf(err, "can't open %s", path)
}

func stamp(t time.Time) string {
	return t.Format(stampLayout)
}
