package snoop

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/scomm"
)

const (
	cplogName   = "skwlog.log"
	cplogHeader = "skwcplog\x00\x01\x00\x02\x00\x00\x03\xea"
	cplogLimit  = 1536 << 20
)

// CPLog stores vendor diagnostic frames in skwlog.log. A nil *CPLog discards
// everything.
type CPLog struct {
	mu    sync.Mutex
	dir   string
	slice bool
	f     *os.File
	size  int64
	cnt   int
	now   func() time.Time
	log   scomm.Logger
}

// OpenCPLog opens dir/skwlog.log. An existing log is kept as
// skwlog-last.log when slice is set, under a timestamped name otherwise.
func OpenCPLog(dir string, slice bool) (*CPLog, error) {
	c := &CPLog{
		dir:   dir,
		slice: slice,
		now:   time.Now,
		log:   scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "cplog"}),
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the live log file.
func (c *CPLog) Path() string { return filepath.Join(c.dir, cplogName) }

func (c *CPLog) open() error {
	path := c.Path()
	c.size = 0

	if sz, ok := fileSize(path); ok {
		var dst string
		switch {
		case c.slice:
			dst = filepath.Join(c.dir, "skwlog-last.log")
		case sz > int64(len(cplogHeader)+len(timeRecord{}.bytes())):
			t := c.now()
			dst = filepath.Join(c.dir, fmt.Sprintf("skwlog-%s_%03d-%02d.log", stamp(t), t.Nanosecond()%1000, c.cnt))
		}
		if dst != "" {
			if err := moveAside(path, dst); err != nil {
				c.log.Error(err)
			}
		}
	}
	c.cnt++

	f, err := openAppend(path)
	if err != nil {
		return err
	}
	f.Truncate(0)
	c.f = f
	c.log.Debugf("open %s", path)

	if err := c.write([]byte(cplogHeader)); err != nil {
		return err
	}
	return c.write(newTimeRecord(c.now()).bytes())
}

type timeRecord struct {
	sec, min, hour, mday uint8
}

func newTimeRecord(t time.Time) timeRecord {
	return timeRecord{uint8(t.Second()), uint8(t.Minute()), uint8(t.Hour()), uint8(t.Day())}
}

// bytes lays the record out as a vendor log frame the decoder recognizes.
func (r timeRecord) bytes() []byte {
	return []byte{0x07, 0xff, 0x08, 0x00, 0x01, 0xd0, 0x55, 0x55, r.sec, r.min, r.hour, r.mday}
}

func (c *CPLog) write(b []byte) error {
	n, err := c.f.Write(b)
	c.size += int64(n)
	return errors.Wrap(err, "can't write cp log")
}

// Write appends b, rotating the file once it grows past the size limit.
func (c *CPLog) Write(b []byte) (int, error) {
	if c == nil {
		return len(b), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return 0, os.ErrClosed
	}

	if err := c.write(b); err != nil {
		return 0, err
	}

	if c.size >= cplogLimit {
		c.f.Close()
		c.f = nil
		if err := c.open(); err != nil {
			c.log.Errorf("reopen: %v", err)
		}
	}
	return len(b), nil
}

func (c *CPLog) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return errors.Wrap(err, "can't close cp log")
}
