package i2np

/*
Standard I2NP header (16 bytes):

+----+----+----+----+----+----+----+----+
|type|      msg_id       |  expiration
+----+----+----+----+----+----+----+----+
                         |  size   |chks|
+----+----+----+----+----+----+----+----+

chks is the first byte of the SHA256 hash of the payload.
*/

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"

	datalib "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// HeaderSize is the length of the standard I2NP header.
const HeaderSize = 16

// DefaultMessageLifetime bounds how long an outgoing message stays valid.
const DefaultMessageLifetime = 8 * time.Second

// Message is a parsed standard-header I2NP message.
type Message struct {
	Type       int
	MessageID  uint32
	Expiration time.Time
	Payload    []byte
}

// ReadMessage parses a standard 16-byte header plus payload. The payload
// checksum is verified; a mismatch is an error, never a panic.
func ReadMessage(data []byte) (Message, error) {
	msg := Message{}

	if len(data) < HeaderSize {
		return msg, oops.Errorf("i2np message too short: %d bytes", len(data))
	}

	msg.Type = int(data[0])
	msg.MessageID = binary.BigEndian.Uint32(data[1:5])

	date := datalib.Date{}
	copy(date[:], data[5:13])
	msg.Expiration = date.Time()

	size := int(binary.BigEndian.Uint16(data[13:15]))
	if len(data) < HeaderSize+size {
		return msg, oops.Errorf("i2np payload truncated: have %d want %d", len(data)-HeaderSize, size)
	}

	payload := data[HeaderSize : HeaderSize+size]
	digest := sha256.Sum256(payload)
	if digest[0] != data[15] {
		return msg, oops.Errorf("i2np payload checksum mismatch")
	}
	msg.Payload = payload

	log.WithFields(logger.Fields{
		"at":   "i2np.ReadMessage",
		"type": msg.Type,
		"size": size,
	}).Debug("parsed_i2np_message")
	return msg, nil
}

// MarshalBinary renders the message with a standard header. A zero
// Expiration gets the default lifetime from now.
func (m *Message) MarshalBinary() ([]byte, error) {
	if len(m.Payload) > math.MaxUint16 {
		return nil, oops.Errorf("i2np payload too large: %d bytes", len(m.Payload))
	}

	expiration := m.Expiration
	if expiration.IsZero() {
		expiration = time.Now().Add(DefaultMessageLifetime)
	}
	date, err := datalib.DateFromTime(expiration)
	if err != nil {
		return nil, oops.Errorf("failed to encode expiration: %w", err)
	}

	out := make([]byte, HeaderSize+len(m.Payload))
	out[0] = byte(m.Type)
	binary.BigEndian.PutUint32(out[1:5], m.MessageID)
	copy(out[5:13], date[:])
	binary.BigEndian.PutUint16(out[13:15], uint16(len(m.Payload)))

	digest := sha256.Sum256(m.Payload)
	out[15] = digest[0]
	copy(out[HeaderSize:], m.Payload)

	return out, nil
}

// NewMessageID returns a random message id for an outgoing message.
func NewMessageID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, oops.Errorf("failed to generate message id: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
