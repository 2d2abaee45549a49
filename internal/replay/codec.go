package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

// frameHeaderLen is the size of the length prefix on a binary frame.
const frameHeaderLen = 4

// Codec serializes frames for the wire. Binary frames are a 4-byte
// big-endian length followed by a canonical CBOR map, so two encodings of
// the same frame are byte-identical. Text frames are plain JSON for
// clients that cannot decode CBOR.
type Codec struct {
	enc cbor.EncMode
}

// NewCodec returns a ready Codec.
func NewCodec() (*Codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc}, nil
}

// Binary serializes one frame as a length-prefixed CBOR record.
func (c *Codec) Binary(f *telemetry.Frame) ([]byte, error) {
	body, err := c.enc.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding frame %d: %w", f.Index, err)
	}
	out := make([]byte, frameHeaderLen+len(body))
	binary.BigEndian.PutUint32(out[:frameHeaderLen], uint32(len(body)))
	copy(out[frameHeaderLen:], body)
	return out, nil
}

// DecodeBinary reverses Binary. Used by tests and diagnostic tooling.
func (c *Codec) DecodeBinary(data []byte) (*telemetry.Frame, error) {
	if len(data) < frameHeaderLen {
		return nil, fmt.Errorf("frame record too short: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data[:frameHeaderLen])
	if int(n) != len(data)-frameHeaderLen {
		return nil, fmt.Errorf("frame length mismatch: header %d, body %d", n, len(data)-frameHeaderLen)
	}
	var f telemetry.Frame
	if err := cbor.Unmarshal(data[frameHeaderLen:], &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Text serializes one frame as JSON.
func (c *Codec) Text(f *telemetry.Frame) (string, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encoding frame %d: %w", f.Index, err)
	}
	return string(body), nil
}
