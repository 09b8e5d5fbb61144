package i2np

/*
DeliveryStatus payload:

msg_id (4) | timestamp (8, Date)
*/

import (
	"encoding/binary"
	"time"

	datalib "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// DeliveryStatus acknowledges receipt of an earlier message; a floodfill
// answers a DatabaseStore reply token with the token as MessageID.
type DeliveryStatus struct {
	MessageID uint32
	Timestamp time.Time
}

// ReadDeliveryStatus parses a DeliveryStatus payload.
func ReadDeliveryStatus(payload []byte) (DeliveryStatus, error) {
	status := DeliveryStatus{}

	if len(payload) < 12 {
		return status, oops.Errorf("delivery status too short: %d bytes", len(payload))
	}

	status.MessageID = binary.BigEndian.Uint32(payload[0:4])

	date := datalib.Date{}
	copy(date[:], payload[4:12])
	status.Timestamp = date.Time()

	return status, nil
}

// MarshalBinary renders the DeliveryStatus payload.
func (s *DeliveryStatus) MarshalBinary() ([]byte, error) {
	timestamp := s.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	date, err := datalib.DateFromTime(timestamp)
	if err != nil {
		return nil, oops.Errorf("failed to encode timestamp: %w", err)
	}

	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], s.MessageID)
	copy(out[4:12], date[:])

	return out, nil
}
