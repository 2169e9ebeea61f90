package addr

import (
	"crypto/rand"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/scomm"
)

// FileName is the file, next to the capture log, holding the generated
// local part.
const FileName = "skwbdaddr.json"

// DefaultVendorStorage is the platform storage node queried for an address.
const DefaultVendorStorage = "/dev/vendor_storage"

var defaultLocal = [3]byte{0x12, 0x24, 0x56}

type record struct {
	Local [3]byte `json:"local"`
}

// Store hands out the persisted local address part and the platform
// address.
type Store struct {
	filename string
	lock     sync.RWMutex

	local [3]byte
	valid bool
	host  Addr

	// readVendor fetches the platform address; replaced in tests
	readVendor func() (Addr, error)
}

// New loads the local part from dir, generating and persisting one on first
// use. When it can neither be loaded nor persisted the local part is
// reported as unavailable.
func New(dir string) *Store {
	s := &Store{
		filename: filepath.Join(dir, FileName),
		local:    defaultLocal,
		readVendor: func() (Addr, error) {
			return ReadVendorStorage(DefaultVendorStorage)
		},
	}

	log := scomm.GetLogger().ChildLogger(map[string]interface{}{"component": "addr"})
	if err := s.loadOrGenerate(); err != nil {
		log.Warnf("no local address part: %v", err)
		return s
	}
	s.valid = true
	log.Debugf("local address part % x", s.local)
	return s
}

func (s *Store) loadOrGenerate() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, err := os.Stat(s.filename)
	if err == nil {
		in, err := ioutil.ReadFile(s.filename)
		if err != nil {
			return err
		}
		var r record
		if err := jsoniter.Unmarshal(in, &r); err != nil {
			return errors.Wrapf(err, "can't decode %s", s.filename)
		}
		s.local = r.Local
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	var r record
	if _, err := rand.Read(r.Local[:]); err != nil {
		return errors.Wrap(err, "can't generate address")
	}
	out, err := jsoniter.Marshal(r)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(s.filename, out, 0644); err != nil {
		return errors.Wrapf(err, "can't store %s", s.filename)
	}
	s.local = r.Local
	return nil
}

// LocalPart returns the three bytes patched into the NV image.
func (s *Store) LocalPart() ([3]byte, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.local, s.valid
}

// SetHostAddress records the address the host stack passed at init.
func (s *Store) SetHostAddress(a Addr) {
	s.lock.Lock()
	s.host = a
	s.lock.Unlock()
}

// Address returns the full address to program: the platform address from
// vendor storage, else the host supplied one. ok is false when neither is
// set.
func (s *Store) Address() (Addr, bool) {
	if a, err := s.readVendor(); err == nil && a.Valid() {
		return a, true
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.host, s.host.Valid()
}
