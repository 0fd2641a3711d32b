//go:build !linux && !darwin

package taskloop

// newPlatformReactorImpl has no backend on this GOOS, matching the
// teacher's posture toward poller_windows.go: IOCP is a different enough
// model that eventloop keeps it as a separate, narrower implementation
// rather than forcing it through the epoll/kqueue-shaped interface.
// go-taskloop does not ship a Windows backend; callers on unsupported
// platforms that don't need fd-backed I/O can still use every other
// component (timers, channels, queues, groups, gather, subprocess
// stdio via pipes handled through os.Pipe-compatible blocking reads on
// a helper goroutine) by supplying their own Reactor via
// WithReactor(reactorThatAlwaysErrorsOnAddFD) or simply never calling
// AddReader/AddWriter.
func newPlatformReactorImpl() (Reactor, error) {
	return nil, ErrReactorUnsupported
}
