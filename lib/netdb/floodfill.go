package netdb

import (
	"sort"
	"strings"
	"sync"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// CalculateXORDistance calculates the XOR distance between two hashes,
// the Kademlia closeness metric of the network database.
func CalculateXORDistance(hash1, hash2 common.Hash) []byte {
	distance := make([]byte, len(hash1))
	for i := 0; i < len(hash1); i++ {
		distance[i] = hash1[i] ^ hash2[i]
	}
	return distance
}

// CompareXORDistances compares two XOR distances using big-endian byte
// comparison. Returns true if dist1 < dist2 (dist1 is closer).
func CompareXORDistances(dist1, dist2 []byte) bool {
	for i := 0; i < len(dist1); i++ {
		if dist1[i] < dist2[i] {
			return true
		}
		if dist1[i] > dist2[i] {
			return false
		}
	}
	return false // Equal distances
}

// IsFloodfillRouter checks if a RouterInfo represents a floodfill
// router: its "caps" option contains 'f'.
func IsFloodfillRouter(ri router_info.RouterInfo) bool {
	options := ri.Options()
	capsKey, _ := common.ToI2PString("caps")
	capsValue := options.Values().Get(capsKey)
	caps, _ := capsValue.Data()
	return strings.Contains(caps, "f")
}

// SelectClosest orders peers by XOR distance to target, skips everyone
// in exclude, and returns at most count hashes.
func SelectClosest(peers []common.Hash, target common.Hash, count int, exclude []common.Hash) []common.Hash {
	if count <= 0 {
		return nil
	}
	excluded := make(map[common.Hash]struct{}, len(exclude))
	for _, peer := range exclude {
		excluded[peer] = struct{}{}
	}

	eligible := make([]common.Hash, 0, len(peers))
	for _, peer := range peers {
		if _, skip := excluded[peer]; skip {
			continue
		}
		eligible = append(eligible, peer)
	}

	sort.Slice(eligible, func(i, j int) bool {
		di := CalculateXORDistance(eligible[i], target)
		dj := CalculateXORDistance(eligible[j], target)
		return CompareXORDistances(di, dj)
	})

	if len(eligible) > count {
		eligible = eligible[:count]
	}
	return eligible
}

// FloodfillDirectory is an in-memory set of known floodfill peers. It
// accepts full RouterInfo records or bare hashes fed by a bootstrap
// layer. Safe for concurrent use.
type FloodfillDirectory struct {
	mu    sync.RWMutex
	peers map[common.Hash]struct{}
}

func NewFloodfillDirectory() *FloodfillDirectory {
	return &FloodfillDirectory{
		peers: make(map[common.Hash]struct{}),
	}
}

// Store adds a router to the directory if it is a floodfill. Returns
// whether it was accepted.
func (d *FloodfillDirectory) Store(ri router_info.RouterInfo) (bool, error) {
	if !IsFloodfillRouter(ri) {
		return false, nil
	}
	hash, err := ri.IdentHash()
	if err != nil {
		return false, oops.Errorf("failed to get router ident hash: %w", err)
	}
	d.StorePeer(hash)
	return true, nil
}

// StorePeer adds a peer already known to be a floodfill.
func (d *FloodfillDirectory) StorePeer(hash common.Hash) {
	d.mu.Lock()
	d.peers[hash] = struct{}{}
	d.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":   "netdb.FloodfillDirectory.StorePeer",
		"peer": hash,
	}).Debug("stored_floodfill_peer")
}

// RemovePeer drops a peer, e.g. after repeated send failures.
func (d *FloodfillDirectory) RemovePeer(hash common.Hash) {
	d.mu.Lock()
	delete(d.peers, hash)
	d.mu.Unlock()
}

// Size returns the number of known floodfill peers.
func (d *FloodfillDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// SelectFloodfillPeers returns up to count floodfills closest to
// target, excluding the given peers.
func (d *FloodfillDirectory) SelectFloodfillPeers(target common.Hash, count int, exclude []common.Hash) []common.Hash {
	d.mu.RLock()
	peers := make([]common.Hash, 0, len(d.peers))
	for peer := range d.peers {
		peers = append(peers, peer)
	}
	d.mu.RUnlock()

	return SelectClosest(peers, target, count, exclude)
}
