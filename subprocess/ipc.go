// Package subprocess implements the task runtime's subprocess
// supervisor: launching child processes as tasks, streaming their
// progress back over a length-prefixed framing, and delivering
// cancellation as a signal rather than an in-process exception.
package subprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Tag identifies the kind of frame in the IPC wire format: one tag byte,
// a 4-byte big-endian length, then that many payload bytes.
type Tag byte

const (
	// TagResult carries a child's final successful payload.
	TagResult Tag = iota + 1
	// TagError carries a child's final error payload (UTF-8 text).
	TagError
	// TagProgress carries an incremental progress payload; any number of
	// these may precede the terminal TagResult/TagError frame.
	TagProgress
	// TagIPC carries an application-defined message exchanged over the
	// channel bound to the child's stdin/stdout, independent of the
	// progress/result protocol.
	TagIPC
)

func (t Tag) String() string {
	switch t {
	case TagResult:
		return "result"
	case TagError:
		return "error"
	case TagProgress:
		return "progress"
	case TagIPC:
		return "ipc"
	default:
		return "unknown"
	}
}

// maxFrameLength bounds a single frame's payload to guard against a
// corrupted or hostile length prefix driving an unbounded allocation.
const maxFrameLength = 64 << 20 // 64MiB

// ErrFrameTooLarge is returned by ReadFrame when a length prefix exceeds
// maxFrameLength.
var ErrFrameTooLarge = errors.New("subprocess: frame exceeds maximum length")

// Frame is one decoded IPC unit.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// WriteFrame encodes and writes f to w: tag byte, 4-byte big-endian
// length, payload.
func WriteFrame(w io.Writer, f Frame) error {
	var header [5]byte
	header[0] = byte(f.Tag)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("subprocess: write frame header: %w", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("subprocess: write frame payload: %w", err)
	}
	return nil
}

// EncodeFrame returns f's wire encoding, for callers (like the
// subprocess package's non-blocking stdin writer) that need the bytes
// up front rather than writing straight to an io.Writer.
func EncodeFrame(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFrame decodes a single Frame from r, blocking until a full frame
// (or an error/EOF) is available.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameLength {
		return Frame{}, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("subprocess: read frame payload: %w", err)
		}
	}
	return Frame{Tag: Tag(header[0]), Payload: payload}, nil
}
