package snoop

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/scomm"
	"github.com/rigado/scomm/linux/hci/h4"
)

const (
	btsnoopHeader = "btsnoop\x00\x00\x00\x00\x01\x00\x00\x03\xea"
	recordLen     = 24

	// microseconds between 0000-01-01 and the unix epoch
	epochDelta = 0x00dcddb30f2f8000

	btsnoopLimit = 1 << 30
)

// Packet flags of a btsnoop record.
const (
	flagSent     = 0
	flagReceived = 1
	flagCommand  = 2
	flagEvent    = 3
)

// Btsnoop writes an H4 (datalink 1002) btsnoop capture file. A nil *Btsnoop
// discards everything.
type Btsnoop struct {
	mu    sync.Mutex
	path  string
	save  bool
	slice bool
	f     *os.File
	size  int64
	cnt   int
	now   func() time.Time
	log   scomm.Logger
}

// OpenBtsnoop opens the capture at path. Unless save is set the previous
// capture is kept as <path>.last. With save the previous capture is kept
// under a timestamped name, or appended to when slice is set.
func OpenBtsnoop(path string, save, slice bool) (*Btsnoop, error) {
	s := &Btsnoop{
		path:  path,
		save:  save,
		slice: slice,
		now:   time.Now,
		log:   scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "btsnoop"}),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Btsnoop) open() error {
	fresh := true
	s.size = 0

	switch sz, ok := fileSize(s.path); {
	case !s.save:
		if err := moveAside(s.path, s.path+".last"); err != nil {
			s.log.Error(err)
		}
	case !ok:
	case s.slice && sz > btsnoopLimit:
		if err := moveAside(s.path, s.path+".last"); err != nil {
			return err
		}
	case s.slice:
		if sz > int64(len(btsnoopHeader)) {
			fresh = false
			s.size = sz
		}
	case sz > int64(len(btsnoopHeader)):
		t := s.now()
		dst := fmt.Sprintf("%s.%s_%d-%02d", s.path, stamp(t), t.Nanosecond()/1000, s.cnt)
		s.cnt++
		if err := moveAside(s.path, dst); err != nil {
			s.log.Error(err)
		}
	}

	f, err := openAppend(s.path)
	if err != nil {
		return err
	}
	s.f = f
	s.log.Debugf("open %s, new %v", s.path, fresh)

	if fresh {
		if sz, ok := fileSize(s.path); ok && sz > 0 {
			s.f.Truncate(0)
		}
		if _, err := s.f.Write([]byte(btsnoopHeader)); err != nil {
			return errors.Wrap(err, "can't write btsnoop header")
		}
	}
	return nil
}

func flags(t byte, received bool) uint32 {
	switch t {
	case h4.CommandPacket:
		return flagCommand
	case h4.EventPacket, h4.VendorLogPacket:
		return flagEvent
	}
	if received {
		return flagReceived
	}
	return flagSent
}

// Capture appends one record. Frames of an unknown type are ignored.
func (s *Btsnoop) Capture(frame []byte, received bool) {
	if s == nil || len(frame) == 0 {
		return
	}
	if _, err := h4.HeaderLen(frame[0]); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}

	ts := uint64(s.now().UnixNano()/1000) + epochDelta

	rec := make([]byte, recordLen, recordLen+len(frame))
	binary.BigEndian.PutUint32(rec[0:], uint32(len(frame)))
	binary.BigEndian.PutUint32(rec[4:], uint32(len(frame)))
	binary.BigEndian.PutUint32(rec[8:], flags(frame[0], received))
	binary.BigEndian.PutUint32(rec[12:], 0)
	binary.BigEndian.PutUint64(rec[16:], ts)
	rec = append(rec, frame...)

	if _, err := s.f.Write(rec); err != nil {
		s.log.Errorf("write: %v", err)
		return
	}
	s.size += int64(len(frame))

	if s.size >= btsnoopLimit {
		s.f.Close()
		s.f = nil
		if err := s.open(); err != nil {
			s.log.Errorf("reopen: %v", err)
		}
	}
}

func (s *Btsnoop) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return errors.Wrap(err, "can't close btsnoop")
}
