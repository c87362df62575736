// Package message implements the control-message vocabulary exchanged over
// the multicast group and the relay channel, and its fixed-width binary form.
//
// Every record starts with a one-byte tag. NewServer and CloseServer carry a
// big-endian uint16 port:
//
//	Join         0x01
//	NewServer    0x02 pp pp
//	CloseServer  0x03 pp pp
package message

import (
	"encoding/binary"
	"fmt"

	"github.com/baaaht/chatmesh/pkg/types"
)

// ScratchSize is the capacity of a sender's encode buffer.
const ScratchSize = 4096

// Kind identifies a control message variant on the wire
type Kind byte

const (
	KindJoin        Kind = 0x01
	KindNewServer   Kind = 0x02
	KindCloseServer Kind = 0x03
)

// String returns the variant name
func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindNewServer:
		return "new_server"
	case KindCloseServer:
		return "close_server"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// Message is a control message. The set of implementations is closed.
type Message interface {
	Kind() Kind
	encodedLen() int
	put(b []byte)
}

// Join announces presence on the group.
type Join struct{}

// NewServer announces a chat server listening on Port.
type NewServer struct {
	Port uint16
}

// CloseServer withdraws a chat server previously announced on Port.
type CloseServer struct {
	Port uint16
}

func (Join) Kind() Kind      { return KindJoin }
func (Join) encodedLen() int { return 1 }
func (Join) put(b []byte)    { b[0] = byte(KindJoin) }
func (Join) String() string  { return "Join" }

func (NewServer) Kind() Kind      { return KindNewServer }
func (NewServer) encodedLen() int { return 3 }
func (m NewServer) String() string {
	return fmt.Sprintf("NewServer{port: %d}", m.Port)
}

func (m NewServer) put(b []byte) {
	b[0] = byte(KindNewServer)
	binary.BigEndian.PutUint16(b[1:3], m.Port)
}

func (CloseServer) Kind() Kind      { return KindCloseServer }
func (CloseServer) encodedLen() int { return 3 }
func (m CloseServer) String() string {
	return fmt.Sprintf("CloseServer{port: %d}", m.Port)
}

func (m CloseServer) put(b []byte) {
	b[0] = byte(KindCloseServer)
	binary.BigEndian.PutUint16(b[1:3], m.Port)
}

// EncodedLen returns the number of bytes Encode writes for m
func EncodedLen(m Message) int {
	return m.encodedLen()
}

// Encode writes the canonical form of m into buf and returns the written
// prefix of buf. If buf is too small it returns an ENCODING_OVERFLOW error
// and leaves buf untouched.
func Encode(buf []byte, m Message) ([]byte, error) {
	if m == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "cannot encode nil message")
	}
	n := m.encodedLen()
	if len(buf) < n {
		return nil, types.NewError(types.ErrCodeEncodingOverflow,
			fmt.Sprintf("%s needs %d bytes, buffer has %d", m.Kind(), n, len(buf)))
	}
	m.put(buf[:n])
	return buf[:n], nil
}

// Decode parses exactly one message from b. Empty input, an unknown tag,
// a truncated payload and trailing bytes are DECODING errors.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, types.NewError(types.ErrCodeDecoding, "empty message")
	}

	var (
		m    Message
		want int
	)
	switch Kind(b[0]) {
	case KindJoin:
		m, want = Join{}, 1
	case KindNewServer:
		want = 3
		if len(b) >= want {
			m = NewServer{Port: binary.BigEndian.Uint16(b[1:3])}
		}
	case KindCloseServer:
		want = 3
		if len(b) >= want {
			m = CloseServer{Port: binary.BigEndian.Uint16(b[1:3])}
		}
	default:
		return nil, types.NewError(types.ErrCodeDecoding,
			"unknown message tag "+Kind(b[0]).String())
	}

	if len(b) < want {
		return nil, types.NewError(types.ErrCodeDecoding,
			fmt.Sprintf("truncated %s: %d of %d bytes", Kind(b[0]), len(b), want))
	}
	if len(b) > want {
		return nil, types.NewError(types.ErrCodeDecoding,
			fmt.Sprintf("%d trailing bytes after %s", len(b)-want, Kind(b[0])))
	}
	return m, nil
}
