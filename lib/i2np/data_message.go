package i2np

/*
Data message payload:

length (4) | gzip-framed client payload (length bytes)

The client payload reuses the gzip member header to carry addressing:
bytes 4-5 hold the source port, bytes 6-7 the destination port, and
byte 9 (the OS field) the protocol id. The deflate body follows.
*/

import (
	"encoding/binary"

	"github.com/samber/oops"
)

const gzipHeaderSize = 10

var gzipMagic = []byte{0x1f, 0x8b, 0x08}

// DataPayload is the addressed client payload of a Data message. Frame
// holds the complete gzip-framed blob, header included, which is what a
// protocol handler consumes.
type DataPayload struct {
	SrcPort  uint16
	DestPort uint16
	Protocol byte
	Frame    []byte
}

// ReadDataPayload parses a Data message payload and extracts the ports
// and protocol id from the gzip header fields.
func ReadDataPayload(payload []byte) (DataPayload, error) {
	dp := DataPayload{}

	if len(payload) < 4 {
		return dp, oops.Errorf("data message too short: %d bytes", len(payload))
	}
	length := int(binary.BigEndian.Uint32(payload[0:4]))
	if length < gzipHeaderSize {
		return dp, oops.Errorf("data message frame too short: %d bytes", length)
	}
	if len(payload) < 4+length {
		return dp, oops.Errorf("data message frame truncated: have %d want %d", len(payload)-4, length)
	}

	frame := payload[4 : 4+length]
	for i, b := range gzipMagic {
		if frame[i] != b {
			return dp, oops.Errorf("data message frame is not gzip framed")
		}
	}

	dp.SrcPort = binary.BigEndian.Uint16(frame[4:6])
	dp.DestPort = binary.BigEndian.Uint16(frame[6:8])
	dp.Protocol = frame[9]
	dp.Frame = frame

	return dp, nil
}

// MarshalBinary renders the Data message payload, stamping the ports and
// protocol id into the frame's gzip header fields. Frame may be nil; a
// minimal header-only frame is produced then.
func (p *DataPayload) MarshalBinary() ([]byte, error) {
	frame := p.Frame
	if frame == nil {
		frame = make([]byte, gzipHeaderSize)
		copy(frame, gzipMagic)
	}
	if len(frame) < gzipHeaderSize {
		return nil, oops.Errorf("data message frame too short: %d bytes", len(frame))
	}

	out := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(frame)))
	copy(out[4:], frame)

	framed := out[4:]
	binary.BigEndian.PutUint16(framed[4:6], p.SrcPort)
	binary.BigEndian.PutUint16(framed[6:8], p.DestPort)
	framed[9] = p.Protocol

	return out, nil
}
