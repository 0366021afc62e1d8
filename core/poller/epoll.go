//go:build linux
// +build linux

package poller

import "syscall"

const epollRDHUP = 0x2000

// EpollPoller is an epoll-based I/O multiplexer.
type EpollPoller struct {
	epfd   int
	events []syscall.EpollEvent
}

// NewPoller creates a new Poller (Linux).
func NewPoller() (Poller, error) {
	epfd, err := syscall.EpollCreate1(0)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]syscall.EpollEvent, 1024),
	}, nil
}

// Add starts level-triggered watching of fd for EPOLLIN and peer shutdown.
// Write-readiness is off until SetWritable enables it.
func (p *EpollPoller) Add(fd int) error {
	ev := syscall.EpollEvent{
		Events: uint32(syscall.EPOLLIN) | epollRDHUP,
		Fd:     int32(fd),
	}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

// Remove stops watching fd entirely.
func (p *EpollPoller) Remove(fd int) error {
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// SetWritable arms or disarms EPOLLOUT for fd. EpollCtl has no "toggle one
// bit" operation, so the full interest mask (read + peer shutdown, which
// must stay active either way) is resubmitted.
func (p *EpollPoller) SetWritable(fd int, enabled bool) error {
	mask := uint32(syscall.EPOLLIN) | epollRDHUP
	if enabled {
		mask |= uint32(syscall.EPOLLOUT)
	}
	ev := syscall.EpollEvent{Events: mask, Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, fd, &ev)
}

// Wait waits for I/O events.
func (p *EpollPoller) Wait(timeout int) ([]Event, error) {
	n, err := syscall.EpollWait(p.epfd, p.events, timeout)
	if err != nil && err != syscall.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		out = append(out, Event{
			Fd:       int(ev.Fd),
			Readable: ev.Events&(uint32(syscall.EPOLLIN)|epollRDHUP) != 0,
			Writable: ev.Events&uint32(syscall.EPOLLOUT) != 0,
		})
	}
	return out, nil
}

// Close closes the poller.
func (p *EpollPoller) Close() error {
	return syscall.Close(p.epfd)
}

// SetNonblock sets non-blocking mode.
func SetNonblock(fd int) error {
	return syscall.SetNonblock(fd, true)
}
