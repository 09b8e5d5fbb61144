package i2np

/*
DatabaseStore payload:

key (32) | type (1) | reply_token (4)
[ reply_tunnel_id (4) | reply_gateway (32)   present when reply_token > 0 ]
data (remaining)
*/

import (
	"encoding/binary"

	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// DatabaseStore carries a RouterInfo or LeaseSet record, optionally
// requesting a DeliveryStatus confirmation keyed by ReplyToken.
type DatabaseStore struct {
	Key           common.Hash
	Type          byte
	ReplyToken    uint32
	ReplyTunnelID uint32
	ReplyGateway  common.Hash
	Data          []byte
}

// ReadDatabaseStore parses a DatabaseStore payload.
func ReadDatabaseStore(payload []byte) (DatabaseStore, error) {
	store := DatabaseStore{}

	if len(payload) < 37 {
		return store, oops.Errorf("database store too short: %d bytes", len(payload))
	}

	copy(store.Key[:], payload[0:32])
	store.Type = payload[32]
	store.ReplyToken = binary.BigEndian.Uint32(payload[33:37])

	offset := 37
	if store.ReplyToken > 0 {
		if len(payload) < offset+36 {
			return store, oops.Errorf("database store reply path truncated")
		}
		store.ReplyTunnelID = binary.BigEndian.Uint32(payload[offset : offset+4])
		copy(store.ReplyGateway[:], payload[offset+4:offset+36])
		offset += 36
	}

	store.Data = payload[offset:]
	if len(store.Data) == 0 {
		return store, oops.Errorf("database store has no data")
	}

	return store, nil
}

// MarshalBinary renders the DatabaseStore payload. The reply path fields
// are written only when a reply token is set.
func (s *DatabaseStore) MarshalBinary() ([]byte, error) {
	if len(s.Data) == 0 {
		return nil, oops.Errorf("database store has no data")
	}

	size := 37 + len(s.Data)
	if s.ReplyToken > 0 {
		size += 36
	}

	out := make([]byte, 0, size)
	out = append(out, s.Key[:]...)
	out = append(out, s.Type)
	out = binary.BigEndian.AppendUint32(out, s.ReplyToken)
	if s.ReplyToken > 0 {
		out = binary.BigEndian.AppendUint32(out, s.ReplyTunnelID)
		out = append(out, s.ReplyGateway[:]...)
	}
	out = append(out, s.Data...)

	return out, nil
}
