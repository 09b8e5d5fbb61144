package i2np

/*
DatabaseLookup payload:

key (32) | from (32) | flags (1)
[ reply_tunnel_id (4)   present when flags bit 0 is set ]
size (2) | excluded_peers (size * 32)
*/

import (
	"encoding/binary"
	"math"

	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// DatabaseLookup asks a floodfill for a record, carrying the set of
// peers already queried so the floodfill can suggest others.
type DatabaseLookup struct {
	Key           common.Hash
	From          common.Hash
	Flags         byte
	ReplyTunnelID uint32
	Excluded      []common.Hash
}

// ReadDatabaseLookup parses a DatabaseLookup payload.
func ReadDatabaseLookup(payload []byte) (DatabaseLookup, error) {
	lookup := DatabaseLookup{}

	if len(payload) < 65 {
		return lookup, oops.Errorf("database lookup too short: %d bytes", len(payload))
	}

	copy(lookup.Key[:], payload[0:32])
	copy(lookup.From[:], payload[32:64])
	lookup.Flags = payload[64]

	offset := 65
	if lookup.Flags&LookupFlagTunnelReply != 0 {
		if len(payload) < offset+4 {
			return lookup, oops.Errorf("database lookup reply tunnel id truncated")
		}
		lookup.ReplyTunnelID = binary.BigEndian.Uint32(payload[offset : offset+4])
		offset += 4
	}

	if len(payload) < offset+2 {
		return lookup, oops.Errorf("database lookup excluded count truncated")
	}
	count := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2

	if len(payload) < offset+count*32 {
		return lookup, oops.Errorf("database lookup excluded peers truncated")
	}
	lookup.Excluded = make([]common.Hash, count)
	for i := 0; i < count; i++ {
		copy(lookup.Excluded[i][:], payload[offset:offset+32])
		offset += 32
	}

	return lookup, nil
}

// MarshalBinary renders the DatabaseLookup payload.
func (l *DatabaseLookup) MarshalBinary() ([]byte, error) {
	if len(l.Excluded) > math.MaxUint16 {
		return nil, oops.Errorf("too many excluded peers: %d", len(l.Excluded))
	}

	size := 67 + len(l.Excluded)*32
	if l.Flags&LookupFlagTunnelReply != 0 {
		size += 4
	}

	out := make([]byte, 0, size)
	out = append(out, l.Key[:]...)
	out = append(out, l.From[:]...)
	out = append(out, l.Flags)
	if l.Flags&LookupFlagTunnelReply != 0 {
		out = binary.BigEndian.AppendUint32(out, l.ReplyTunnelID)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(l.Excluded)))
	for _, peer := range l.Excluded {
		out = append(out, peer[:]...)
	}

	return out, nil
}
