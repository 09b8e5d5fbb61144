package destination

import (
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/lease_set"
	"github.com/go-i2p/common/lease_set2"
	"github.com/go-i2p/go-destination/lib/i2np"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// RemoteLeaseSet is a cached directory record for a remote destination.
// Exactly one of LeaseSet and LeaseSet2 is set, matching the wire form
// the record arrived in. Raw holds the serialized record.
type RemoteLeaseSet struct {
	Hash      common.Hash
	LeaseSet  *lease_set.LeaseSet
	LeaseSet2 *lease_set2.LeaseSet2
	Raw       []byte
	StoredAt  time.Time
	Expires   time.Time
}

// Expired reports whether every lease in the record has lapsed.
func (r *RemoteLeaseSet) Expired(now time.Time) bool {
	return !now.Before(r.Expires)
}

// LeaseSetCache maps destination hashes to their cached LeaseSets.
// Safe for concurrent use; the engine loop writes it while FindLeaseSet
// reads from any goroutine. Eviction is lazy on Get plus periodic
// through Purge.
type LeaseSetCache struct {
	mu      sync.Mutex
	entries map[common.Hash]*RemoteLeaseSet
}

func NewLeaseSetCache() *LeaseSetCache {
	return &LeaseSetCache{
		entries: make(map[common.Hash]*RemoteLeaseSet),
	}
}

// Store inserts or replaces the record for its hash.
func (c *LeaseSetCache) Store(entry *RemoteLeaseSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Hash] = entry
}

// Get returns the cached record for hash. A record past its expiration
// is removed and reported as a miss; a fully expired record is never
// returned.
func (c *LeaseSetCache) Get(hash common.Hash, now time.Time) (*RemoteLeaseSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		delete(c.entries, hash)
		return nil, false
	}
	return entry, true
}

// Purge removes every expired record and returns how many went.
func (c *LeaseSetCache) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for hash, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, hash)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached records, expired ones included.
func (c *LeaseSetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// parseRemoteLeaseSet validates a DatabaseStore record into a cache
// entry. Legacy LeaseSets expire with their newest lease; LeaseSet2
// records get a fixed TTL from insertion since the parsed form exposes
// no expiration.
func parseRemoteLeaseSet(key common.Hash, storeType byte, data []byte, now time.Time, ls2TTL time.Duration) (*RemoteLeaseSet, error) {
	entry := &RemoteLeaseSet{
		Hash:     key,
		Raw:      append([]byte(nil), data...),
		StoredAt: now,
	}

	switch storeType {
	case i2np.StoreTypeLeaseSet:
		ls, err := lease_set.ReadLeaseSet(data)
		if err != nil {
			return nil, oops.Errorf("failed to parse leaseset: %w", err)
		}
		leases := ls.Leases()
		newest := time.Time{}
		for i := range leases {
			expiration := leases[i].Date().Time()
			if expiration.After(newest) {
				newest = expiration
			}
		}
		if !newest.After(now) {
			return nil, oops.Errorf("leaseset is fully expired")
		}
		entry.LeaseSet = &ls
		entry.Expires = newest
	case i2np.StoreTypeLeaseSet2:
		ls2, _, err := lease_set2.ReadLeaseSet2(data)
		if err != nil {
			return nil, oops.Errorf("failed to parse leaseset2: %w", err)
		}
		entry.LeaseSet2 = &ls2
		entry.Expires = now.Add(ls2TTL)
	default:
		return nil, oops.Errorf("unsupported store type %d", storeType)
	}

	log.WithFields(logger.Fields{
		"at":      "destination.parseRemoteLeaseSet",
		"type":    storeType,
		"expires": entry.Expires,
	}).Debug("parsed_remote_leaseset")
	return entry, nil
}
