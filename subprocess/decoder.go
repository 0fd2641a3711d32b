package subprocess

import "encoding/binary"

// frameDecoder incrementally assembles Frames out of however many bytes
// a single non-blocking read happens to return, since a Reactor
// readiness notification only promises "at least one byte available",
// not "a whole frame". Mirrors eventloop/promisify.go's pattern of
// turning chunked async delivery into discrete completed units, but
// feeding a byte decoder instead of a promise.
type frameDecoder struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete frame now
// decodable from the accumulated buffer, leaving any trailing partial
// frame buffered for the next call.
func (d *frameDecoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		if len(d.buf) < 5 {
			break
		}
		length := binary.BigEndian.Uint32(d.buf[1:5])
		if length > maxFrameLength {
			// Drop the corrupt stream; caller surfaces ErrFrameTooLarge.
			d.buf = nil
			break
		}
		total := 5 + int(length)
		if len(d.buf) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, d.buf[5:total])
		frames = append(frames, Frame{Tag: Tag(d.buf[0]), Payload: payload})
		d.buf = d.buf[total:]
	}
	return frames
}
