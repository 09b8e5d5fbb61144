package destination

import (
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

// RequestComplete receives the resolved LeaseSet, or nil when the
// lookup exhausted its floodfills, hit the deadline, or was cancelled
// by Stop. Every registered callback fires exactly once.
type RequestComplete func(remote *RemoteLeaseSet)

// leaseSetRequest is the in-flight lookup for one target. Concurrent
// requests for the same target share one slot; each caller's callback
// is tracked separately.
type leaseSetRequest struct {
	target     common.Hash
	excluded   map[common.Hash]struct{} // peers already queried
	candidates []common.Hash            // peers not yet queried
	createdAt  time.Time
	timer      *time.Timer
	complete   []RequestComplete
}

// excludedList renders the exclusion set for the wire.
func (r *leaseSetRequest) excludedList() []common.Hash {
	list := make([]common.Hash, 0, len(r.excluded))
	for peer := range r.excluded {
		list = append(list, peer)
	}
	return list
}

// nextCandidate pops the first candidate not yet queried.
func (r *leaseSetRequest) nextCandidate() (common.Hash, bool) {
	for len(r.candidates) > 0 {
		peer := r.candidates[0]
		r.candidates = r.candidates[1:]
		if _, seen := r.excluded[peer]; !seen {
			return peer, true
		}
	}
	return common.Hash{}, false
}

// addCandidates appends peers that are neither queried nor already
// queued, returning how many were accepted.
func (r *leaseSetRequest) addCandidates(peers []common.Hash) int {
	queued := make(map[common.Hash]struct{}, len(r.candidates))
	for _, peer := range r.candidates {
		queued[peer] = struct{}{}
	}
	added := 0
	for _, peer := range peers {
		if _, seen := r.excluded[peer]; seen {
			continue
		}
		if _, seen := queued[peer]; seen {
			continue
		}
		r.candidates = append(r.candidates, peer)
		queued[peer] = struct{}{}
		added++
	}
	return added
}

// RequestDestination resolves target's LeaseSet, answering from the
// cache when fresh and running the lookup protocol otherwise. complete
// may be nil for a fire-and-forget warmup. Never blocks on network
// activity.
func (d *Destination) RequestDestination(target common.Hash, complete RequestComplete) error {
	if target == (common.Hash{}) {
		return ErrInvalidTarget
	}
	return d.post(func() {
		d.requestDestination(target, complete)
	})
}

func (d *Destination) requestDestination(target common.Hash, complete RequestComplete) {
	if entry, ok := d.cache.Get(target, time.Now()); ok {
		if complete != nil {
			complete(entry)
		}
		return
	}

	if req, ok := d.requests[target]; ok {
		if complete != nil {
			req.complete = append(req.complete, complete)
		}
		log.WithFields(logger.Fields{
			"at":     "destination.requestDestination",
			"target": target,
		}).Debug("joined_pending_request")
		return
	}

	req := &leaseSetRequest{
		target:    target,
		excluded:  make(map[common.Hash]struct{}),
		createdAt: time.Now(),
	}
	if complete != nil {
		req.complete = append(req.complete, complete)
	}
	req.candidates = d.directory.SelectFloodfillPeers(target, d.cfg.MaxFloodfills, nil)
	d.requests[target] = req

	d.sendLeaseSetRequest(req)
}

// sendLeaseSetRequest queries the next floodfill for req's target and
// arms the attempt timer. With no candidate left it asks the directory
// once more, excluding everyone queried, before giving up.
func (d *Destination) sendLeaseSetRequest(req *leaseSetRequest) {
	if len(req.excluded) >= d.cfg.MaxFloodfills {
		d.completeRequest(req.target, nil, "floodfills exhausted")
		return
	}

	peer, ok := req.nextCandidate()
	if !ok {
		more := d.directory.SelectFloodfillPeers(req.target, d.cfg.MaxFloodfills, req.excludedList())
		if req.addCandidates(more) == 0 {
			d.completeRequest(req.target, nil, "no floodfills left")
			return
		}
		peer, _ = req.nextCandidate()
	}

	req.excluded[peer] = struct{}{}
	if err := d.directory.SendDirectoryLookup(peer, req.target, d.replyPath(), req.excludedList()); err != nil {
		// Counted as an attempt; the timer moves us along.
		log.WithFields(logger.Fields{
			"at":     "destination.sendLeaseSetRequest",
			"target": req.target,
			"peer":   peer,
		}).WithError(err).Warn("lookup_send_failed")
	} else {
		log.WithFields(logger.Fields{
			"at":      "destination.sendLeaseSetRequest",
			"target":  req.target,
			"peer":    peer,
			"queried": len(req.excluded),
		}).Debug("sent_leaseset_lookup")
	}

	target := req.target
	if req.timer != nil {
		req.timer.Stop()
	}
	req.timer = time.AfterFunc(d.cfg.LookupTimeout, func() {
		_ = d.post(func() {
			d.handleRequestTimeout(target)
		})
	})
}

// handleRequestTimeout advances a lookup whose attempt timer fired. The
// slot may already be gone; a stale timer is a no-op.
func (d *Destination) handleRequestTimeout(target common.Hash) {
	req, ok := d.requests[target]
	if !ok {
		return
	}
	if time.Since(req.createdAt) >= d.cfg.LookupDeadline {
		d.completeRequest(target, nil, "request deadline exceeded")
		return
	}
	d.sendLeaseSetRequest(req)
}

// completeRequest removes the slot, disarms its timer, and fires every
// registered callback exactly once. entry is nil on failure.
func (d *Destination) completeRequest(target common.Hash, entry *RemoteLeaseSet, reason string) {
	req, ok := d.requests[target]
	if !ok {
		return
	}
	delete(d.requests, target)
	if req.timer != nil {
		req.timer.Stop()
		req.timer = nil
	}

	if entry != nil {
		log.WithFields(logger.Fields{
			"at":      "destination.completeRequest",
			"target":  target,
			"queried": len(req.excluded),
		}).Debug("leaseset_request_resolved")
	} else {
		log.WithFields(logger.Fields{
			"at":     "destination.completeRequest",
			"target": target,
			"reason": reason,
		}).Warn("leaseset_request_failed")
	}

	for _, complete := range req.complete {
		complete(entry)
	}
}
