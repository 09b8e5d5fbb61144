package i2np

/*
DatabaseSearchReply payload:

key (32) | num (1) | peer_hashes (num * 32) | from (32)
*/

import (
	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// DatabaseSearchReply is a negative lookup answer listing peers closer
// to the key than the responding floodfill.
type DatabaseSearchReply struct {
	Key        common.Hash
	PeerHashes []common.Hash
	From       common.Hash
}

// ReadDatabaseSearchReply parses a DatabaseSearchReply payload.
func ReadDatabaseSearchReply(payload []byte) (DatabaseSearchReply, error) {
	reply := DatabaseSearchReply{}

	if len(payload) < 33 {
		return reply, oops.Errorf("database search reply too short: %d bytes", len(payload))
	}

	copy(reply.Key[:], payload[0:32])
	count := int(payload[32])

	if len(payload) < 33+count*32+32 {
		return reply, oops.Errorf("database search reply truncated: %d peers in %d bytes", count, len(payload))
	}

	offset := 33
	reply.PeerHashes = make([]common.Hash, count)
	for i := 0; i < count; i++ {
		copy(reply.PeerHashes[i][:], payload[offset:offset+32])
		offset += 32
	}
	copy(reply.From[:], payload[offset:offset+32])

	return reply, nil
}

// MarshalBinary renders the DatabaseSearchReply payload.
func (r *DatabaseSearchReply) MarshalBinary() ([]byte, error) {
	if len(r.PeerHashes) > 255 {
		return nil, oops.Errorf("too many peer hashes: %d", len(r.PeerHashes))
	}

	out := make([]byte, 0, 65+len(r.PeerHashes)*32)
	out = append(out, r.Key[:]...)
	out = append(out, byte(len(r.PeerHashes)))
	for _, peer := range r.PeerHashes {
		out = append(out, peer[:]...)
	}
	out = append(out, r.From[:]...)

	return out, nil
}
