//go:build linux || darwin

package taskloop

import "golang.org/x/sys/unix"

// newWakePipe creates a self-pipe used to interrupt a blocked Poll call
// from another goroutine, adapted from eventloop/fd_unix.go and
// wakeup_linux.go's createWakeFd/drainWakeUpPipe.
func newWakePipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func wakeWakePipe(w int) error {
	var b [1]byte
	_, err := unix.Write(w, b[:])
	if err == unix.EAGAIN {
		// Pipe buffer already has a pending wake byte; coalescing is fine,
		// the reader only needs to observe at least one wake per idle block.
		return nil
	}
	return err
}

func drainWakePipe(r int) {
	var buf [64]byte
	for {
		n, err := unix.Read(r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
