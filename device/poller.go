//go:build linux

package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// waitSlice bounds one epoll_wait so a cancelled context is noticed even
// when the deadline is far away or absent.
const waitSlice = 100 * time.Millisecond

var ErrPollerClosed = errors.New("device: poller closed")

// Poller waits for one descriptor to become readable using epoll.
type Poller struct {
	mu     sync.Mutex
	epfd   int
	wakefd int // eventfd written by Close
	fd     int
	closed bool
}

// NewPoller watches fd for readability.
func NewPoller(fd int) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	for _, watched := range []int{fd, wakefd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(watched)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, watched, &ev); err != nil {
			unix.Close(wakefd)
			unix.Close(epfd)
			return nil, err
		}
	}
	return &Poller{epfd: epfd, wakefd: wakefd, fd: fd}, nil
}

// Wait blocks until the descriptor is readable, ctx is done or the poller is
// closed.
func (p *Poller) Wait(ctx context.Context) error {
	events := make([]unix.EpollEvent, 2)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		slice := waitSlice
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < slice {
				slice = left
			}
		}
		// Rounded up, so a wait never ends before the deadline does.
		msec := int((slice + time.Millisecond - 1) / time.Millisecond)
		if msec < 1 {
			msec = 1
		}

		n, err := unix.EpollWait(p.epfd, events, msec)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if p.isClosed() {
				return ErrPollerClosed
			}
			return err
		}
		for _, ev := range events[:n] {
			if int(ev.Fd) == p.wakefd {
				return ErrPollerClosed
			}
			if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				// HUP and ERR surface on the following read.
				return nil
			}
		}
	}
}

func (p *Poller) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close wakes pending waits and releases the epoll descriptors. The watched
// descriptor stays open.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var one [8]byte
	one[0] = 1
	unix.Write(p.wakefd, one[:])
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}
