package relay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/baaaht/chatmesh/pkg/message"
	"github.com/baaaht/chatmesh/pkg/types"
)

// MaxFrameSize is the largest payload carried by one frame
const MaxFrameSize = message.ScratchSize

const frameHeaderSize = 2

// WriteFrame writes payload as a single frame with one Write call
func WriteFrame(w io.Writer, payload []byte) error {
	if err := checkFrameSize(len(payload)); err != nil {
		return err
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

func checkFrameSize(n int) error {
	if n == 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "empty frame")
	}
	if n > MaxFrameSize {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("frame of %d bytes exceeds %d", n, MaxFrameSize))
	}
	return nil
}

// FrameReader reads frames from a stream into a reusable buffer that grows
// up to MaxFrameSize.
type FrameReader struct {
	r   io.Reader
	hdr [frameHeaderSize]byte
	buf []byte
}

// NewFrameReader returns a FrameReader reading from r
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, buf: make([]byte, 0, 512)}
}

// Next returns the next frame payload. The slice is only valid until the
// following call. A clean close between frames returns io.EOF; a close
// inside a frame returns io.ErrUnexpectedEOF. A zero or oversized length is
// a DECODING error, after which the stream cannot be resynchronised.
func (fr *FrameReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(fr.hdr[:]))
	if err := checkFrameSize(n); err != nil {
		return nil, types.WrapError(types.ErrCodeDecoding, "bad frame header", err)
	}

	if cap(fr.buf) < n {
		fr.buf = make([]byte, 0, growCap(cap(fr.buf), n))
	}
	fr.buf = fr.buf[:n]
	if _, err := io.ReadFull(fr.r, fr.buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return fr.buf, nil
}

func growCap(have, need int) int {
	if have == 0 {
		have = 512
	}
	for have < need {
		have *= 2
	}
	if have > MaxFrameSize {
		have = MaxFrameSize
	}
	return have
}
