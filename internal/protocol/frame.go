package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// Frame is a decoded wire message: a header plus its raw JSON payload
// bytes. payload_len = 0 is valid (e.g. ABORT, HEARTBEAT carry no payload).
type Frame struct {
	Header  Header
	Payload []byte
}

// Codec reads and writes Frames over a transport, enforcing the configured
// frame-size ceiling (spec §4.1: "Frames larger than a configurable ceiling
// (default 16 MiB) are rejected with ERR").
type Codec struct {
	MaxFrameBytes uint32
}

// NewCodec builds a Codec with the given frame-size ceiling. A zero or
// negative ceiling falls back to the spec's default of 16 MiB.
func NewCodec(maxFrameBytes int) *Codec {
	ceiling := uint32(maxFrameBytes)
	if maxFrameBytes <= 0 {
		ceiling = 16 * 1024 * 1024
	}
	return &Codec{MaxFrameBytes: ceiling}
}

// Encode builds the wire bytes for opcode/jobID with payload marshaled as
// JSON. payload may be nil for opcodes with an empty body.
func (c *Codec) Encode(opcode Opcode, jobID uint64, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal payload for %s: %w", opcode.Name(), err)
		}
		body = b
	}
	if uint32(len(body)) > c.MaxFrameBytes {
		return nil, fmt.Errorf("protocol: payload of %d bytes exceeds ceiling of %d", len(body), c.MaxFrameBytes)
	}
	h := Header{Version: CurrentVersion, Opcode: opcode, JobID: jobID, PayloadLen: uint32(len(body))}
	hb := h.Pack()
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, hb[:]...)
	out = append(out, body...)
	return out, nil
}

// WriteFrame encodes and writes a single frame to w.
func (c *Codec) WriteFrame(w io.Writer, opcode Opcode, jobID uint64, payload any) error {
	buf, err := c.Encode(opcode, jobID, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one complete frame from r: a 16-byte header followed by
// exactly header.PayloadLen bytes. It rejects frames whose declared
// payload_len exceeds the configured ceiling before reading the body, and
// rejects an unsupported (too-low) version byte.
func (c *Codec) ReadFrame(r io.Reader) (Frame, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Frame{}, err
	}
	h, err := UnpackHeader(hb[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Version < CurrentVersion {
		return Frame{}, fmt.Errorf("protocol: unsupported version 0x%02x (minimum 0x%02x)", h.Version, CurrentVersion)
	}
	if h.PayloadLen > c.MaxFrameBytes {
		return Frame{}, fmt.Errorf("protocol: frame payload_len %d exceeds ceiling %d", h.PayloadLen, c.MaxFrameBytes)
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// DecodePayload unmarshals f.Payload into T. An empty payload unmarshals
// into the zero value of T without error.
func DecodePayload[T any](f Frame) (T, error) {
	var v T
	if len(f.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal %s payload: %w", f.Header.Opcode.Name(), err)
	}
	return v, nil
}
