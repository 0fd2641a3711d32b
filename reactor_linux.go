//go:build linux

package taskloop

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollReactor is the Linux Reactor backend, adapted from
// eventloop/poller_linux.go's FastPoller. Unlike the teacher's
// direct-array-indexed, cache-line-padded FastPoller (built for a hot
// JS-hosting loop doing millions of registrations/sec), this backend
// uses a plain mutex-guarded map: our spec's invariant ("at most one
// task per fd/direction") is satisfied identically, and a map is simpler
// to read correctly at this module's size budget.
type epollReactor struct {
	epfd int

	mu   sync.Mutex
	regs map[int]*fdRegistration
	buf  [256]unix.EpollEvent

	wakeR, wakeW int
}

type fdRegistration struct {
	fd      int
	reading bool
	writing bool
}

func newPlatformReactorImpl() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	r := &epollReactor{epfd: epfd, regs: make(map[int]*fdRegistration)}

	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	r.wakeR, r.wakeW = wakeR, wakeW
	if err := r.addFD(wakeR, unix.EPOLLIN); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakeR)
		_ = unix.Close(wakeW)
		return nil, err
	}
	return r, nil
}

func (r *epollReactor) addFD(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (r *epollReactor) modFD(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (r *epollReactor) epollEventsFor(reg *fdRegistration) uint32 {
	var events uint32
	if reg.reading {
		events |= unix.EPOLLIN
	}
	if reg.writing {
		events |= unix.EPOLLOUT
	}
	return events
}

func (r *epollReactor) register(fd int, read bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[fd]
	if !ok {
		reg = &fdRegistration{fd: fd}
		r.regs[fd] = reg
		if read {
			reg.reading = true
		} else {
			reg.writing = true
		}
		return r.addFD(fd, r.epollEventsFor(reg))
	}
	if read {
		reg.reading = true
	} else {
		reg.writing = true
	}
	return r.modFD(fd, r.epollEventsFor(reg))
}

func (r *epollReactor) AddReader(fd int) error { return r.register(fd, true) }
func (r *epollReactor) AddWriter(fd int) error { return r.register(fd, false) }

func (r *epollReactor) Remove(fd int, dir IODirection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[fd]
	if !ok {
		return ErrFDNotWatched
	}
	if dir == IORead {
		reg.reading = false
	} else {
		reg.writing = false
	}
	if !reg.reading && !reg.writing {
		delete(r.regs, fd)
		return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	return r.modFD(fd, r.epollEventsFor(reg))
}

func (r *epollReactor) Poll(maxBlock time.Duration) ([]ReadyFD, error) {
	timeoutMs := -1
	if maxBlock >= 0 {
		timeoutMs = int(maxBlock / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, r.buf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	var out []ReadyFD
	for i := 0; i < n; i++ {
		fd := int(r.buf[i].Fd)
		if fd == r.wakeR {
			drainWakePipe(r.wakeR)
			continue
		}
		ev := r.buf[i].Events
		if ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			out = append(out, ReadyFD{FD: fd, Direction: IORead})
		}
		if ev&unix.EPOLLOUT != 0 {
			out = append(out, ReadyFD{FD: fd, Direction: IOWrite})
		}
	}
	return out, nil
}

func (r *epollReactor) Wake() error {
	return wakeWakePipe(r.wakeW)
}

func (r *epollReactor) Close() error {
	_ = unix.Close(r.wakeR)
	_ = unix.Close(r.wakeW)
	return unix.Close(r.epfd)
}
