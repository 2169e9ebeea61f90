package addr

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func noVendor() (Addr, error) { return Addr{}, errors.New("none") }

func TestStoreGeneratesOnce(t *testing.T) {
	dir, err := ioutil.TempDir("", "addr")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	l1, ok := s.LocalPart()
	if !ok {
		t.Fatal("expected a local part")
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("local part not persisted: %v", err)
	}

	l2, ok := New(dir).LocalPart()
	if !ok || l1 != l2 {
		t.Fatalf("expected %x to persist, got %x", l1, l2)
	}
}

func TestStoreUnwritable(t *testing.T) {
	s := New(filepath.Join(os.TempDir(), "no-such-dir", "nested"))
	l, ok := s.LocalPart()
	if ok {
		t.Fatal("expected no local part")
	}
	if l != defaultLocal {
		t.Fatalf("unexpected local part % x", l)
	}
}

func TestStoreAddress(t *testing.T) {
	dir, err := ioutil.TempDir("", "addr")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s := New(dir)
	s.readVendor = noVendor
	if _, ok := s.Address(); ok {
		t.Fatal("expected no address")
	}

	host := Addr{1, 2, 3, 4, 5, 6}
	s.SetHostAddress(host)
	if a, ok := s.Address(); !ok || a != host {
		t.Fatalf("expected host address, got %v %v", a, ok)
	}

	platform := Addr{6, 5, 4, 3, 2, 1}
	s.readVendor = func() (Addr, error) { return platform, nil }
	if a, ok := s.Address(); !ok || a != platform {
		t.Fatalf("expected platform address, got %v %v", a, ok)
	}
}

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("12:34:56:78:9a:bc")
	if err != nil {
		t.Fatal(err)
	}
	if a != (Addr{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc}) || a.String() != "12:34:56:78:9a:bc" {
		t.Fatalf("got %v", a)
	}
	if _, err := ParseAddr("12:34"); err == nil {
		t.Fatal("expected error")
	}
}
