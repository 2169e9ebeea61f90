//go:build linux
// +build linux

package socket

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/rigado/scomm"
)

const (
	maxEvents = 32
	readMask  = unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP | unix.EPOLLERR
)

// Object is a descriptor registered with an Epoll reactor. An Object with no
// callbacks only serves to wake the reactor.
type Object struct {
	fd      int
	context interface{}

	// mu protects the lifetime of the object against the reactor.
	mu     sync.Mutex
	closed bool

	readReady  func(context interface{}) error
	writeReady func(context interface{}) error
}

// NewObject returns an object watching fd for readability.
func NewObject(fd int, context interface{}, readReady func(interface{}) error) *Object {
	return &Object{fd: fd, context: context, readReady: readReady}
}

func (o *Object) Fd() int { return o.fd }

// Epoll dispatches readiness of registered objects to their callbacks.
type Epoll struct {
	fd      int
	mu      sync.Mutex
	objects map[int]*Object
	log     scomm.Logger
}

func NewEpoll(log scomm.Logger) (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "can't create epoll instance")
	}
	return &Epoll{fd: fd, objects: map[int]*Object{}, log: log}, nil
}

func (e *Epoll) Fd() int { return e.fd }

// Register adds o with read interest.
func (e *Epoll) Register(o *Object) error {
	ev := unix.EpollEvent{Events: readMask, Fd: int32(o.fd)}
	if o.writeReady != nil {
		ev.Events |= unix.EPOLLOUT
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, o.fd, &ev); err != nil {
		return errors.Wrapf(err, "can't register fd %d", o.fd)
	}
	e.objects[o.fd] = o
	return nil
}

// Unregister removes the object watching fd. It waits for a callback that
// is running on the object to return.
func (e *Epoll) Unregister(fd int) error {
	e.mu.Lock()
	o, ok := e.objects[fd]
	delete(e.objects, fd)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	return errors.Wrapf(err, "can't unregister fd %d", fd)
}

// Run waits for events until running reports false. Every wait is bounded
// by timeout so the flag is rechecked even when nothing fires.
func (e *Epoll) Run(running func() bool, timeout time.Duration) {
	events := make([]unix.EpollEvent, maxEvents)
	ms := int(timeout / time.Millisecond)

	for running() {
		n, err := unix.EpollWait(e.fd, events, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			e.log.Errorf("error in epoll_wait: %v", err)
			<-time.After(10 * time.Millisecond)
			continue
		}

		for i := 0; i < n; i++ {
			e.dispatch(events[i])
		}
	}
}

func (e *Epoll) dispatch(ev unix.EpollEvent) {
	e.mu.Lock()
	o := e.objects[int(ev.Fd)]
	e.mu.Unlock()
	if o == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	var err error
	if ev.Events&readMask != 0 && o.readReady != nil {
		err = o.readReady(o.context)
	}
	if err == nil && ev.Events&unix.EPOLLOUT != 0 && o.writeReady != nil {
		err = o.writeReady(o.context)
	}

	if errors.Cause(err) == io.EOF {
		// peer gone; stop watching so a hung-up socket can't spin the loop
		e.log.Warnf("fd %d closed by peer", o.fd)
		o.closed = true
		e.mu.Lock()
		delete(e.objects, o.fd)
		e.mu.Unlock()
		unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, o.fd, nil)
	} else if err != nil {
		e.log.Errorf("fd %d: %v", o.fd, err)
	}
}

// Close releases the epoll descriptor.
func (e *Epoll) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	return errors.Wrap(err, "can't close epoll")
}
