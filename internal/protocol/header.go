// Package protocol implements the Casparian Flow wire protocol (spec §4.1,
// §6.1): a fixed 16-byte header followed by a variable-length JSON payload,
// plus the codecs for every opcode's payload shape and the Parser I/O
// Protocol's NDJSON control frames (spec §4.3, §6.3).
//
// The header layout and opcode table are the compatibility contract; they
// must not change meaning across protocol versions without bumping
// CurrentVersion. The envelope/Encode/Decode shape is grounded on
// other_examples' cinch protocol package (Message{Type, Payload
// json.RawMessage} + generic DecodePayload[T]); the exact byte layout below
// is dictated by the spec itself.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed byte length of every frame header.
const HeaderSize = 16

// CurrentVersion is the only wire version this implementation speaks.
// A lower version byte on receive makes ReadFrame fail; the Sentinel's
// transport answers such a read failure with an ERR frame before closing
// the connection (spec §6.1).
const CurrentVersion uint8 = 0x04

// Header is the bit-exact 16-byte frame header described in spec §4.1:
//
//	byte 0    : version (uint8)
//	byte 1    : opcode (uint8)
//	bytes 2-3 : reserved
//	bytes 4-11: job_id (uint64)
//	bytes 12-15: payload_len (uint32)
//
// All multi-byte integers are big-endian.
type Header struct {
	Version    uint8
	Opcode     Opcode
	JobID      uint64
	PayloadLen uint32
}

// Pack serializes h into its 16-byte wire form. Reserved bytes 2-3 are
// always zeroed on send, per spec.
func (h Header) Pack() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Version
	buf[1] = byte(h.Opcode)
	// buf[2], buf[3] left zero (reserved)
	binary.BigEndian.PutUint64(buf[4:12], h.JobID)
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLen)
	return buf
}

// UnpackHeader parses a 16-byte wire header. Reserved bytes are ignored on
// receive, per spec.
func UnpackHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("protocol: header must be exactly %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		Version:    buf[0],
		Opcode:     Opcode(buf[1]),
		JobID:      binary.BigEndian.Uint64(buf[4:12]),
		PayloadLen: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}
