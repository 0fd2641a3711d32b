//go:build darwin

package taskloop

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueReactor is the Darwin/BSD Reactor backend, adapted from
// eventloop/poller_darwin.go's FastPoller kqueue wrapper, simplified to a
// mutex-guarded map of registrations (see reactor_linux.go's doc comment
// for the rationale).
type kqueueReactor struct {
	kq int

	mu   sync.Mutex
	regs map[int]*fdRegistration
	buf  [256]unix.Kevent_t

	wakeR, wakeW int
}

func newPlatformReactorImpl() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	r := &kqueueReactor{kq: kq, regs: make(map[int]*fdRegistration)}

	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	r.wakeR, r.wakeW = wakeR, wakeW
	if err := r.changeEvent(wakeR, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR); err != nil {
		_ = unix.Close(kq)
		_ = unix.Close(wakeR)
		_ = unix.Close(wakeW)
		return nil, err
	}
	return r, nil
}

func (r *kqueueReactor) changeEvent(fd int, filter int16, flags uint16) error {
	kev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
	_, err := unix.Kevent(r.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (r *kqueueReactor) register(fd int, read bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[fd]
	if !ok {
		reg = &fdRegistration{fd: fd}
		r.regs[fd] = reg
	}
	filter := int16(unix.EVFILT_WRITE)
	if read {
		reg.reading = true
		filter = unix.EVFILT_READ
	} else {
		reg.writing = true
	}
	return r.changeEvent(fd, filter, unix.EV_ADD|unix.EV_CLEAR)
}

func (r *kqueueReactor) AddReader(fd int) error { return r.register(fd, true) }
func (r *kqueueReactor) AddWriter(fd int) error { return r.register(fd, false) }

func (r *kqueueReactor) Remove(fd int, dir IODirection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[fd]
	if !ok {
		return ErrFDNotWatched
	}
	filter := int16(unix.EVFILT_WRITE)
	if dir == IORead {
		reg.reading = false
		filter = unix.EVFILT_READ
	} else {
		reg.writing = false
	}
	_ = r.changeEvent(fd, filter, unix.EV_DELETE)
	if !reg.reading && !reg.writing {
		delete(r.regs, fd)
	}
	return nil
}

func (r *kqueueReactor) Poll(maxBlock time.Duration) ([]ReadyFD, error) {
	var ts *unix.Timespec
	if maxBlock >= 0 {
		t := unix.NsecToTimespec(maxBlock.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(r.kq, nil, r.buf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	var out []ReadyFD
	for i := 0; i < n; i++ {
		fd := int(r.buf[i].Ident)
		if fd == r.wakeR {
			drainWakePipe(r.wakeR)
			continue
		}
		switch r.buf[i].Filter {
		case unix.EVFILT_READ:
			out = append(out, ReadyFD{FD: fd, Direction: IORead})
		case unix.EVFILT_WRITE:
			out = append(out, ReadyFD{FD: fd, Direction: IOWrite})
		}
	}
	return out, nil
}

func (r *kqueueReactor) Wake() error {
	return wakeWakePipe(r.wakeW)
}

func (r *kqueueReactor) Close() error {
	_ = unix.Close(r.wakeR)
	_ = unix.Close(r.wakeW)
	return unix.Close(r.kq)
}
