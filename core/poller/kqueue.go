//go:build darwin
// +build darwin

package poller

import "syscall"

// KqueuePoller is a kqueue-based I/O multiplexer.
type KqueuePoller struct {
	kqfd   int
	events []syscall.Kevent_t
}

// NewPoller creates a new Poller (macOS).
func NewPoller() (Poller, error) {
	kqfd, err := syscall.Kqueue()
	if err != nil {
		return nil, err
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]syscall.Kevent_t, 1024),
	}, nil
}

// Add starts level-triggered watching of fd for EVFILT_READ.
// Write-readiness is off until SetWritable enables it.
func (p *KqueuePoller) Add(fd int) error {
	ev := syscall.Kevent_t{
		Ident:  uint64(fd),
		Filter: syscall.EVFILT_READ,
		Flags:  syscall.EV_ADD | syscall.EV_ENABLE,
	}
	_, err := syscall.Kevent(p.kqfd, []syscall.Kevent_t{ev}, nil, nil)
	return err
}

// Remove stops watching fd for both read and write readiness.
func (p *KqueuePoller) Remove(fd int) error {
	evs := []syscall.Kevent_t{
		{Ident: uint64(fd), Filter: syscall.EVFILT_READ, Flags: syscall.EV_DELETE},
		{Ident: uint64(fd), Filter: syscall.EVFILT_WRITE, Flags: syscall.EV_DELETE},
	}
	// EVFILT_WRITE may never have been added; kqueue reports ENOENT for
	// deleting a filter that isn't registered, which is not an error here.
	_, err := syscall.Kevent(p.kqfd, evs, nil, nil)
	if err != nil && err != syscall.ENOENT {
		return err
	}
	return nil
}

// SetWritable arms or disarms EVFILT_WRITE for fd, independent of the
// always-on EVFILT_READ registration.
func (p *KqueuePoller) SetWritable(fd int, enabled bool) error {
	flags := uint16(syscall.EV_DELETE)
	if enabled {
		flags = syscall.EV_ADD | syscall.EV_ENABLE
	}
	ev := syscall.Kevent_t{
		Ident:  uint64(fd),
		Filter: syscall.EVFILT_WRITE,
		Flags:  flags,
	}
	_, err := syscall.Kevent(p.kqfd, []syscall.Kevent_t{ev}, nil, nil)
	if err != nil && !enabled && err == syscall.ENOENT {
		return nil
	}
	return err
}

// Wait waits for I/O events, aggregating separate read/write kevents for
// the same fd into a single Event.
func (p *KqueuePoller) Wait(timeout int) ([]Event, error) {
	var ts *syscall.Timespec
	if timeout >= 0 {
		ts = &syscall.Timespec{
			Sec:  int64(timeout / 1000),
			Nsec: int64((timeout % 1000) * 1000000),
		}
	}

	n, err := syscall.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil && err != syscall.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	byFd := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		e, ok := byFd[fd]
		if !ok {
			e = &Event{Fd: fd}
			byFd[fd] = e
			order = append(order, fd)
		}
		switch ev.Filter {
		case syscall.EVFILT_READ:
			e.Readable = true
		case syscall.EVFILT_WRITE:
			e.Writable = true
		}
	}

	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFd[fd])
	}
	return out, nil
}

// Close closes the poller.
func (p *KqueuePoller) Close() error {
	return syscall.Close(p.kqfd)
}

// SetNonblock sets non-blocking mode.
func SetNonblock(fd int) error {
	return syscall.SetNonblock(fd, true)
}
