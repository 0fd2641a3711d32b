package subprocess

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	taskloop "github.com/joeycumines/go-taskloop"
)

// Supervisor tracks running child processes spawned through it, so a
// pid can be signalled (Stop) independent of whichever task owns its
// Future (spec §4.9 "subprocess supervisor").
type Supervisor struct {
	sched *taskloop.Scheduler

	mu        sync.Mutex
	processes map[int]*Future
}

// NewSupervisor creates a Supervisor bound to sched. Futures it creates
// register their owned fds with sched's Reactor for backpressure.
func NewSupervisor(sched *taskloop.Scheduler) *Supervisor {
	return &Supervisor{sched: sched, processes: make(map[int]*Future)}
}

// Future represents one in-flight child process: its progress stream,
// its eventual terminal result or error, delivered over the
// TagResult/TagError/TagProgress/TagIPC framing on the child's stdio,
// and (spec §4.9) its timeout, IPC-channel, and signaled disposition.
type Future struct {
	sup *Supervisor
	cmd *exec.Cmd

	stdoutR *osPipeReader
	stdinW  *osPipeWriter

	decoder  frameDecoder
	progress [][]byte

	timeout     time.Duration
	ipcChannel  *taskloop.Channel
	onSignal    func(syscall.Signal)
	forwarderID taskloop.TaskID

	result   any
	err      error
	done     bool
	signaled bool
	signal   syscall.Signal
}

// ChildSignaled implements taskloop.SignaledError: Drive returns it
// when the child terminated because the OS delivered it a signal
// (spec §4.9's "signaled" disposition) rather than exiting on its own,
// so the owning task transitions to TaskSignaled instead of TaskErred.
type ChildSignaled struct {
	Sig syscall.Signal
}

func (e *ChildSignaled) Error() string {
	return fmt.Sprintf("subprocess: child signaled: %s", e.Sig)
}

// Signal satisfies taskloop.SignaledError.
func (e *ChildSignaled) Signal() string { return e.Sig.String() }

// AddFuture starts cmd with its stdout wired through the IPC framing and
// registers it with sup, returning a Future the caller drives with
// Future.Drive from inside a task's coroutine. Mirrors trio's
// add_future — the process is launched immediately; nothing about it
// blocks until Drive is called.
func (sup *Supervisor) AddFuture(cmd *exec.Cmd, opts ...FutureOption) (*Future, error) {
	cfg := resolveFutureOptions(opts)

	stdoutR, stdoutW, err := newOSPipe()
	if err != nil {
		return nil, fmt.Errorf("subprocess: create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW.file
	if cfg.stderrToStdout {
		cmd.Stderr = stdoutW.file
	}

	var stdinW *osPipeWriter
	if cfg.stdinIPC || cfg.ipcChannel != nil {
		stdinR, w, err := newOSPipeForWrite()
		if err != nil {
			_ = stdoutR.Close()
			_ = stdoutW.Close()
			return nil, fmt.Errorf("subprocess: create stdin pipe: %w", err)
		}
		cmd.Stdin = stdinR.file
		stdinW = w
	}

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		if stdinW != nil {
			_ = stdinW.Close()
		}
		return nil, fmt.Errorf("subprocess: start: %w", err)
	}
	_ = stdoutW.Close() // parent keeps only the read end open past Start

	if err := stdoutR.setNonblock(); err != nil {
		return nil, fmt.Errorf("subprocess: set stdout non-blocking: %w", err)
	}
	if stdinW != nil {
		if err := stdinW.setNonblock(); err != nil {
			return nil, fmt.Errorf("subprocess: set stdin non-blocking: %w", err)
		}
	}

	f := &Future{
		sup:        sup,
		cmd:        cmd,
		stdoutR:    stdoutR,
		stdinW:     stdinW,
		timeout:    cfg.timeout,
		ipcChannel: cfg.ipcChannel,
		onSignal:   cfg.onSignal,
	}

	sup.mu.Lock()
	sup.processes[cmd.Process.Pid] = f
	sup.mu.Unlock()

	if cfg.ipcChannel != nil {
		// Stateless: this plumbing task is routinely cancelled during
		// Future.finish cleanup, which must never surface as an
		// "unawaited task failed" shutdown error.
		f.forwarderID = sup.sched.Spawn(f.forwardOutbound, taskloop.WithKind(taskloop.KindStateless))
	}

	return f, nil
}

// forwardOutbound pumps values the application Sends on the bound IPC
// channel to the child's stdin as TagIPC frames, until the channel
// closes or the write side fails (the child exited, or Future.finish
// cancelled this task during cleanup).
func (f *Future) forwardOutbound(ctx *taskloop.TaskContext) (any, error) {
	for {
		v, err := ctx.Receive(f.ipcChannel)
		if err != nil {
			return nil, err
		}
		payload, _ := v.([]byte)
		if err := f.writeFrame(ctx, Frame{Tag: TagIPC, Payload: payload}); err != nil {
			return nil, err
		}
	}
}

// FutureOption configures AddFuture.
type FutureOption interface{ apply(*futureOptions) }

type futureOptions struct {
	stderrToStdout bool
	stdinIPC       bool
	timeout        time.Duration
	ipcChannel     *taskloop.Channel
	onSignal       func(syscall.Signal)
}

type futureOptionFunc func(*futureOptions)

func (f futureOptionFunc) apply(o *futureOptions) { f(o) }

// WithMergeStderr merges the child's stderr into the same framed stdout
// stream instead of leaving it attached to the parent's.
func WithMergeStderr(enabled bool) FutureOption {
	return futureOptionFunc(func(o *futureOptions) { o.stderrToStdout = enabled })
}

// WithStdinIPC opens a framed, writable pipe to the child's stdin for
// TagIPC messages (spec §4.9 "IPC channel"), without binding it to a
// taskloop.Channel — the caller drives it directly with SendIPC.
func WithStdinIPC(enabled bool) FutureOption {
	return futureOptionFunc(func(o *futureOptions) { o.stdinIPC = enabled })
}

// WithTimeout bounds how long Drive may run before the child is force-
// stopped and the owning task resolves with a *taskloop.TaskTimeout
// (spec §4.9's "timed_out" disposition). Implemented as a
// taskloop.TimeoutAfter scope wrapped around Drive's body, so the
// existing stop-signal-on-cancel wiring (ctx.SetStopSignal) is what
// actually kills the child; this option only arms the deadline.
func WithTimeout(d time.Duration) FutureOption {
	return futureOptionFunc(func(o *futureOptions) { o.timeout = d })
}

// WithIPCChannel binds ch to the child's stdio (spec §4.9's "IPC
// channel"): TagIPC frames decoded from the child's stdout are
// delivered via ctx.Send(ch, ...) as Drive runs, and values the
// application Sends on ch are framed and written to the child's stdin
// by an internal forwarder task. Implies WithStdinIPC.
func WithIPCChannel(ch *taskloop.Channel) FutureOption {
	return futureOptionFunc(func(o *futureOptions) { o.ipcChannel = ch })
}

// WithOnSignaled registers a hook invoked when the child terminates
// because the OS delivered it sig, before Drive returns the resulting
// *ChildSignaled error (spec §4.9's "signal_task" hook).
func WithOnSignaled(fn func(syscall.Signal)) FutureOption {
	return futureOptionFunc(func(o *futureOptions) { o.onSignal = fn })
}

func resolveFutureOptions(opts []FutureOption) *futureOptions {
	cfg := &futureOptions{}
	for _, o := range opts {
		if o != nil {
			o.apply(cfg)
		}
	}
	return cfg
}

// Drive cooperatively pumps f's stdio through the Reactor until the
// child exits, calling onProgress for every TagProgress frame observed
// and forwarding TagIPC frames to f's bound channel, and returns the
// terminal TagResult payload or a wrapped TagError. If f was created
// with WithTimeout, Drive's body runs inside a taskloop.TimeoutAfter
// scope so a deadline elapsing force-stops the child (via the caller's
// ctx.SetStopSignal wiring) and surfaces as a *taskloop.TaskTimeout.
// Must be called from inside the task's own coroutine, since it
// suspends via ctx.WaitReadable/ctx.WaitWritable.
func (f *Future) Drive(ctx *taskloop.TaskContext, onProgress func([]byte)) (any, error) {
	if f.timeout <= 0 {
		return f.drive(ctx, onProgress)
	}
	sc := ctx.TimeoutAfter(f.timeout)
	if err := sc.Enter(); err != nil {
		return nil, err
	}
	value, err := f.drive(ctx, onProgress)
	return value, sc.Exit(err)
}

// drive is Drive's body, factored out so Drive can optionally wrap it
// in a timeout scope. Whatever path it exits by — a full frame
// exchange, an I/O error, or a suspension error from cancellation —
// finish always runs exactly once to reap the child and release its
// pipes, so no exit path leaks a zombie process or an open fd.
func (f *Future) drive(ctx *taskloop.TaskContext, onProgress func([]byte)) (value any, err error) {
	defer func() { value, err = f.finish(value, err) }()

	fd := f.stdoutR.fd()
	buf := make([]byte, 64*1024)

	for {
		n, readErr := f.stdoutR.read(buf)
		if n > 0 {
			for _, frame := range f.decoder.Feed(buf[:n]) {
				switch frame.Tag {
				case TagProgress:
					if onProgress != nil {
						onProgress(frame.Payload)
					}
				case TagResult:
					f.result = frame.Payload
					f.done = true
				case TagError:
					f.err = fmt.Errorf("subprocess: %s", string(frame.Payload))
					f.done = true
				case TagIPC:
					if f.ipcChannel != nil {
						if sendErr := ctx.Send(f.ipcChannel, frame.Payload); sendErr != nil {
							return nil, sendErr
						}
					}
				}
			}
		}
		if f.done {
			break
		}
		if readErr == errWouldBlock {
			if _, waitErr := ctx.WaitReadable(fd); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if readErr != nil {
			// EOF or pipe error with no terminal frame observed: the child
			// exited without sending TagResult/TagError.
			break
		}
	}

	return nil, nil
}

// finish reaps the child, releases its pipes and forwarder task, and
// decides the terminal disposition (spec §4.9's
// completed/erred/timed_out/signaled state machine). It runs exactly
// once per Drive call via defer, regardless of which path drive exited
// by, so cleanup never depends on drive reaching its normal tail.
func (f *Future) finish(value any, driveErr error) (any, error) {
	waitErr := f.cmd.Wait()

	f.sup.mu.Lock()
	delete(f.sup.processes, f.cmd.Process.Pid)
	f.sup.mu.Unlock()

	_ = f.stdoutR.Close()
	if f.stdinW != nil {
		_ = f.stdinW.Close()
	}
	if f.forwarderID != 0 {
		_ = f.sup.sched.Cancel(f.forwarderID, fmt.Errorf("subprocess: future finished"))
	}
	if f.ipcChannel != nil {
		f.ipcChannel.Close()
	}

	if driveErr != nil {
		// drive's loop exited via a suspension error (cancellation, the
		// caller's TimeoutAfter scope, or a failed channel forward) rather
		// than the child's own frames; preserve it as-is.
		return nil, driveErr
	}

	if ws, ok := childWaitStatus(f.cmd); ok && ws.Signaled() {
		f.signaled = true
		f.signal = ws.Signal()
		if f.onSignal != nil {
			f.onSignal(f.signal)
		}
		return nil, &ChildSignaled{Sig: f.signal}
	}

	if f.err != nil {
		return nil, f.err
	}
	if waitErr != nil && !f.done {
		return nil, fmt.Errorf("subprocess: %w", waitErr)
	}
	return f.result, nil
}

func childWaitStatus(cmd *exec.Cmd) (syscall.WaitStatus, bool) {
	if cmd.ProcessState == nil {
		return syscall.WaitStatus(0), false
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	return ws, ok
}

// writeFrame frames and writes payload to the child's stdin, parking
// on ctx.WaitWritable whenever the pipe buffer is full (spec §4.9's
// "backpressure ... registering the child's stdin/stdout fds with the
// Reactor"), rather than blocking the driving goroutine.
func (f *Future) writeFrame(ctx *taskloop.TaskContext, frame Frame) error {
	if f.stdinW == nil {
		return fmt.Errorf("subprocess: future was not opened with a stdin pipe")
	}
	encoded, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	fd := f.stdinW.fd()
	for len(encoded) > 0 {
		n, writeErr := f.stdinW.write(encoded)
		if n > 0 {
			encoded = encoded[n:]
		}
		if writeErr == errWouldBlockWrite {
			if _, err := ctx.WaitWritable(fd); err != nil {
				return err
			}
			continue
		}
		if writeErr != nil {
			return writeErr
		}
	}
	return nil
}

// SendIPC writes an application-defined frame to the child's stdin,
// when WithStdinIPC or WithIPCChannel was set on AddFuture. Must be
// called from inside a task's coroutine (it may suspend on backpressure
// via ctx.WaitWritable).
func (f *Future) SendIPC(ctx *taskloop.TaskContext, payload []byte) error {
	return f.writeFrame(ctx, Frame{Tag: TagIPC, Payload: payload})
}

// Pid returns the child process's pid.
func (f *Future) Pid() int { return f.cmd.Process.Pid }

// Signaled reports whether the child terminated because of an OS
// signal, and which one, once Drive has returned.
func (f *Future) Signaled() (syscall.Signal, bool) { return f.signal, f.signaled }

// Stop signals the process named by pid with sig, defaulting to
// syscall.SIGKILL if sig is zero.
func (sup *Supervisor) Stop(pid int, sig syscall.Signal) error {
	if sig == 0 {
		sig = syscall.SIGKILL
	}
	return unix.Kill(pid, sig)
}

// SpawnTask spawns a task on sched that launches cmd, drives its
// framing to completion, and arranges for cancellation of the task to
// signal the child first (spec §4.2's subprocess-owning-task rule).
func (sup *Supervisor) SpawnTask(cmd *exec.Cmd, onProgress func([]byte), opts ...FutureOption) taskloop.TaskID {
	return sup.sched.Spawn(func(ctx *taskloop.TaskContext) (any, error) {
		f, err := sup.AddFuture(cmd, opts...)
		if err != nil {
			return nil, err
		}
		ctx.SetChildProcess(f)
		ctx.SetStopSignal(func() {
			_ = sup.Stop(f.Pid(), syscall.SIGTERM)
		})
		defer ctx.SetStopSignal(nil)
		return f.Drive(ctx, onProgress)
	}, taskloop.WithKind(taskloop.KindParalleled))
}
