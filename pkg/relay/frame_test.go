package relay

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baaaht/chatmesh/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	var stream bytes.Buffer
	payloads := [][]byte{
		{0x01},
		{0x02, 0x1F, 0x90},
		bytes.Repeat([]byte{0x5A}, 700),
		bytes.Repeat([]byte{0xA5}, MaxFrameSize),
		{0x03, 0x00, 0x01},
	}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&stream, p))
	}

	fr := NewFrameReader(&stream)
	for _, want := range payloads {
		got, err := fr.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameHeaderIsBigEndianLength(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, WriteFrame(&stream, bytes.Repeat([]byte{0}, 0x0102)))
	assert.Equal(t, []byte{0x01, 0x02}, stream.Bytes()[:2])
	assert.Equal(t, 2+0x0102, stream.Len())
}

func TestWriteFrameRejectsBadSizes(t *testing.T) {
	var stream bytes.Buffer
	for _, n := range []int{0, MaxFrameSize + 1} {
		err := WriteFrame(&stream, make([]byte, n))
		assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument), "size %d: %v", n, err)
	}
	assert.Zero(t, stream.Len(), "nothing may be written for a rejected frame")
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		wantErr  error
		wantCode string
	}{
		{name: "empty stream", in: nil, wantErr: io.EOF},
		{name: "half header", in: []byte{0x00}, wantErr: io.ErrUnexpectedEOF},
		{name: "truncated payload", in: []byte{0x00, 0x03, 0x02}, wantErr: io.ErrUnexpectedEOF},
		{name: "header only", in: []byte{0x00, 0x01}, wantErr: io.ErrUnexpectedEOF},
		{name: "zero length", in: []byte{0x00, 0x00}, wantCode: types.ErrCodeDecoding},
		{name: "oversized length", in: []byte{0x10, 0x01}, wantCode: types.ErrCodeDecoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.in)).Next()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantCode != "" {
				assert.True(t, types.IsErrCode(err, tt.wantCode), "got %v", err)
			}
		})
	}
}

func TestFrameReaderReusesBuffer(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, WriteFrame(&stream, bytes.Repeat([]byte{1}, 2000)))
	require.NoError(t, WriteFrame(&stream, []byte{2}))

	fr := NewFrameReader(&stream)
	first, err := fr.Next()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cap(first), 2000)
	assert.LessOrEqual(t, cap(first), MaxFrameSize)

	second, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, second)
	assert.Equal(t, &first[0], &second[0], "second frame should reuse the grown buffer")
}
