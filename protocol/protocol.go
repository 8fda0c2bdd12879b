// Package protocol implements the binary frame protocol.
//
// It solves TCP's sticky packet problem with a fixed-size 14-byte header
// followed by a variable-length payload. The receiver reads the header first
// to learn the payload length, then reads exactly that many bytes.
//
// A call is no longer a single frame: the client opens it with a REQUEST
// frame (method + metadata), streams the body as DATA frames, and closes the
// body with a TRAILERS or END frame. The server answers with one RESPONSE
// frame. All frames of a call share the same sequence number, so frames of
// different calls may interleave on the wire.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬─────────────────┐
//	│magic │v │ct│ft│   seq   │ length  │   payload ...    │
//	│ frp  │01│  │  │ uint32  │ uint32  │  length bytes    │
//	└──────┴──┴──┴──┴─────────┴─────────┴─────────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "frp" (frame rpc protocol).
// Used to reject non-protocol connections early (e.g., HTTP clients hitting
// the wrong port).
const (
	MagicByte1 byte = 0x66 // 'f'
	MagicByte2 byte = 0x72 // 'r'
	MagicByte3 byte = 0x70 // 'p'
	Version    byte = 0x01
	HeaderSize int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 4 (seq) + 4 (length)
)

// FrameType identifies the role of a frame within a call.
type FrameType byte

const (
	FrameRequest   FrameType = 0 // Opens a call: encoded envelope with method + metadata
	FrameData      FrameType = 1 // One chunk of the request body
	FrameTrailers  FrameType = 2 // Trailing metadata; also ends the body
	FrameEnd       FrameType = 3 // Ends the body with no trailers (empty payload)
	FrameResponse  FrameType = 4 // Server → client reply
	FrameHeartbeat FrameType = 5 // KeepAlive probe (no payload)
)

// Codec type constants, mirrored from the codec package to avoid a circular
// import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte      // Serialization format for envelope payloads: 0=JSON, 1=Binary
	FrameType FrameType // Request, Data, Trailers, End, Response, or Heartbeat
	Seq       uint32    // Sequence ID shared by every frame of one call
	Length    uint32    // Payload length in bytes
}

// Encode writes a complete frame (header + payload) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different calls will interleave mid-frame
// and corrupt the stream.
func Encode(w io.Writer, h *Header, payload []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicByte1, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.FrameType)
	// Big-endian (network byte order) for the multi-byte fields
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.Length)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	// Payload may be nil (heartbeat and end frames)
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Decode reads a complete frame (header + payload) from r.
// It validates magic, version, codec type, and frame type, and uses
// io.ReadFull so partial reads never surface as truncated frames.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	frameType := headerBuf[5]
	if frameType > byte(FrameHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", frameType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	length := binary.BigEndian.Uint32(headerBuf[10:14])

	// Read exactly length payload bytes, the frame boundary on the stream
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		FrameType: FrameType(frameType),
		Seq:       seq,
		Length:    length,
	}, payload, nil
}
