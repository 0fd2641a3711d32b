package subprocess

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// errWouldBlock is returned by osPipeReader.read when no data is
// currently available on a non-blocking pipe, mirroring EAGAIN.
var errWouldBlock = errors.New("subprocess: read would block")

type osPipeReader struct{ file *os.File }
type osPipeWriter struct{ file *os.File }

func newOSPipe() (*osPipeReader, *osPipeWriter, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return &osPipeReader{file: r}, &osPipeWriter{file: w}, nil
}

func newOSPipeForWrite() (*osPipeReader, *osPipeWriter, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return &osPipeReader{file: r}, &osPipeWriter{file: w}, nil
}

func (r *osPipeReader) fd() int { return int(r.file.Fd()) }
func (w *osPipeWriter) fd() int { return int(w.file.Fd()) }

func (r *osPipeReader) setNonblock() error {
	return unix.SetNonblock(r.fd(), true)
}

func (w *osPipeWriter) setNonblock() error {
	return unix.SetNonblock(w.fd(), true)
}

// errWouldBlockWrite is returned by osPipeWriter.write when the pipe
// buffer is full, mirroring EAGAIN on the write side.
var errWouldBlockWrite = errors.New("subprocess: write would block")

// write performs a raw, non-blocking write, translating EAGAIN into
// errWouldBlockWrite so callers can park on a writable notification
// from the Reactor instead of blocking the driving goroutine.
func (w *osPipeWriter) write(buf []byte) (int, error) {
	n, err := unix.Write(w.fd(), buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, errWouldBlockWrite
		}
		return 0, err
	}
	return n, nil
}

// read performs a raw, non-blocking read, translating EAGAIN into
// errWouldBlock so callers can tell "nothing ready yet" apart from EOF
// or a real error.
func (r *osPipeReader) read(buf []byte) (int, error) {
	n, err := unix.Read(r.fd(), buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	if n == 0 {
		return 0, errEOF
	}
	return n, nil
}

func (r *osPipeReader) Close() error { return r.file.Close() }
func (w *osPipeWriter) Close() error { return w.file.Close() }

var errEOF = errors.New("subprocess: pipe closed")
