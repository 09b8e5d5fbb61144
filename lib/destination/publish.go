package destination

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/key_certificate"
	"github.com/go-i2p/common/lease"
	"github.com/go-i2p/common/lease_set2"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// publishState tracks the LeaseSet publication cycle. token is nonzero
// exactly while a store awaits its DeliveryStatus; pending coalesces
// invalidations that arrive mid-flight.
type publishState struct {
	token     uint32
	attempts  int
	excluded  map[common.Hash]struct{}
	timer     *time.Timer
	pending   bool
	confirmed bool
	leaseSet  []byte
	expires   time.Time
}

// rebuildLeaseSet reacts to an invalidation: rebuild now, or set the
// coalescing flag when a publication is in flight.
func (d *Destination) rebuildLeaseSet() {
	if d.pub.token != 0 {
		d.pub.pending = true
		log.WithFields(logger.Fields{
			"at": "destination.rebuildLeaseSet",
		}).Debug("publish_in_flight_coalescing")
		return
	}
	d.buildAndPublish()
}

// buildAndPublish rebuilds the local LeaseSet from the pool's inbound
// leases and, for public destinations, starts a publish cycle.
func (d *Destination) buildAndPublish() {
	now := time.Now()
	leases := activeLeases(d.pool.GetInboundLeases(), now)
	if len(leases) == 0 {
		d.pub.leaseSet = nil
		d.pub.confirmed = false
		d.leaseExpires.Store(0)
		log.WithFields(logger.Fields{
			"at":     "destination.buildAndPublish",
			"reason": "no usable inbound leases",
		}).Warn("leaseset_not_built")
		return
	}

	leaseSet, newest, err := d.buildLocalLeaseSet(leases, now)
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "destination.buildAndPublish",
		}).WithError(err).Error("leaseset_build_failed")
		return
	}

	d.pub.leaseSet = leaseSet
	d.pub.expires = newest
	d.pub.confirmed = false
	d.leaseExpires.Store(newest.UnixNano())

	log.WithFields(logger.Fields{
		"at":      "destination.buildAndPublish",
		"leases":  len(leases),
		"expires": newest,
	}).Debug("built_local_leaseset")

	if !d.cfg.IsPublic {
		return
	}

	d.pub.attempts = 0
	d.pub.excluded = make(map[common.Hash]struct{})
	d.publishAttempt()
}

// publishAttempt stores the LeaseSet at one more floodfill and arms the
// confirmation timer. Each attempt carries a fresh correlation token.
func (d *Destination) publishAttempt() {
	identHash := d.keys.IdentHash()
	peers := d.directory.SelectFloodfillPeers(identHash, 1, setToList(d.pub.excluded))
	if len(peers) == 0 {
		d.finishPublishCycle(false, "no floodfills available")
		return
	}
	peer := peers[0]

	token, err := newReplyToken()
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "destination.publishAttempt",
		}).WithError(err).Error("reply_token_generation_failed")
		d.finishPublishCycle(false, "token generation failed")
		return
	}

	d.pub.token = token
	d.pub.excluded[peer] = struct{}{}
	d.pub.attempts++

	if err := d.directory.SendDirectoryStore(peer, identHash, d.pub.leaseSet, token, d.replyPath()); err != nil {
		// Counted as an attempt; the confirmation timer retries.
		log.WithFields(logger.Fields{
			"at":   "destination.publishAttempt",
			"peer": peer,
		}).WithError(err).Warn("publish_send_failed")
	} else {
		log.WithFields(logger.Fields{
			"at":      "destination.publishAttempt",
			"peer":    peer,
			"attempt": d.pub.attempts,
		}).Debug("published_leaseset")
	}

	if d.pub.timer != nil {
		d.pub.timer.Stop()
	}
	d.pub.timer = time.AfterFunc(d.cfg.PublishConfirmationTimeout, func() {
		_ = d.post(func() {
			d.handlePublishConfirmationTimeout(token)
		})
	})
}

// handlePublishConfirmationTimeout retries an unconfirmed publication
// or gives the cycle up at the attempt bound. A timer whose token no
// longer matches is stale and ignored.
func (d *Destination) handlePublishConfirmationTimeout(token uint32) {
	if d.pub.token == 0 || d.pub.token != token {
		return
	}
	d.pub.token = 0
	if d.pub.attempts >= d.cfg.MaxPublishAttempts {
		d.finishPublishCycle(false, "publish attempts exhausted")
		return
	}
	d.publishAttempt()
}

// handleDeliveryStatus matches a confirmation against the outstanding
// token. Unmatched confirmations are ignored.
func (d *Destination) handleDeliveryStatus(messageID uint32) {
	if d.pub.token == 0 || messageID != d.pub.token {
		log.WithFields(logger.Fields{
			"at":         "destination.handleDeliveryStatus",
			"message_id": messageID,
		}).Debug("unmatched_delivery_status")
		return
	}
	d.pub.token = 0
	d.finishPublishCycle(true, "")
}

// finishPublishCycle closes out a cycle, confirmed or not, and starts
// the next one when an invalidation was coalesced while in flight.
func (d *Destination) finishPublishCycle(confirmed bool, reason string) {
	if d.pub.timer != nil {
		d.pub.timer.Stop()
		d.pub.timer = nil
	}
	d.pub.token = 0
	d.pub.attempts = 0
	d.pub.excluded = make(map[common.Hash]struct{})
	d.pub.confirmed = confirmed

	if confirmed {
		log.WithFields(logger.Fields{
			"at": "destination.finishPublishCycle",
		}).Debug("leaseset_publish_confirmed")
	} else {
		log.WithFields(logger.Fields{
			"at":     "destination.finishPublishCycle",
			"reason": reason,
		}).Warn("leaseset_publish_unconfirmed")
	}

	if d.pub.pending {
		d.pub.pending = false
		d.buildAndPublish()
	}
}

// buildLocalLeaseSet signs a LeaseSet2 over the given leases. Returns
// the serialized record and the newest lease expiration.
func (d *Destination) buildLocalLeaseSet(leaseInfos []LeaseInfo, now time.Time) ([]byte, time.Time, error) {
	leases := make([]lease.Lease2, 0, len(leaseInfos))
	newest := time.Time{}
	for _, info := range leaseInfos {
		l, err := lease.NewLease2(info.Gateway, info.TunnelID, info.Expires)
		if err != nil {
			return nil, time.Time{}, oops.Errorf("failed to create lease: %w", err)
		}
		leases = append(leases, *l)
		if info.Expires.After(newest) {
			newest = info.Expires
		}
	}

	encKey := lease_set2.EncryptionKey{
		KeyType: key_certificate.KEYCERT_CRYPTO_X25519,
		KeyLen:  32,
		KeyData: d.keys.EncryptionPublicKey().Bytes(),
	}

	published := uint32(now.Unix())
	expiresOffset := uint16(newest.Sub(now).Seconds())

	ls2, err := lease_set2.NewLeaseSet2(
		*d.keys.Destination(),
		published,
		expiresOffset,
		0,   // flags: standard published leaseset
		nil, // no offline signature
		common.Mapping{},
		[]lease_set2.EncryptionKey{encKey},
		leases,
		d.keys.SigningPrivateKey().(interface{ Bytes() []byte }).Bytes(),
	)
	if err != nil {
		return nil, time.Time{}, oops.Errorf("failed to create LeaseSet2: %w", err)
	}

	serialized, err := ls2.Bytes()
	if err != nil {
		return nil, time.Time{}, oops.Errorf("failed to serialize LeaseSet2: %w", err)
	}
	return serialized, newest, nil
}

// replyPath picks the inbound tunnel floodfills should answer through.
// Zero when no lease is usable, which asks for a direct reply.
func (d *Destination) replyPath() ReplyPath {
	leases := activeLeases(d.pool.GetInboundLeases(), time.Now())
	if len(leases) == 0 {
		return ReplyPath{}
	}
	return ReplyPath{Gateway: leases[0].Gateway, TunnelID: leases[0].TunnelID}
}

// activeLeases filters out expired leases.
func activeLeases(leases []LeaseInfo, now time.Time) []LeaseInfo {
	active := make([]LeaseInfo, 0, len(leases))
	for _, l := range leases {
		if l.Expires.After(now) {
			active = append(active, l)
		}
	}
	return active
}

func setToList(set map[common.Hash]struct{}) []common.Hash {
	list := make([]common.Hash, 0, len(set))
	for peer := range set {
		list = append(list, peer)
	}
	return list
}

// newReplyToken returns a nonzero correlation token.
func newReplyToken() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, oops.Errorf("failed to generate reply token: %w", err)
		}
		token := binary.BigEndian.Uint32(buf[:])
		if token != 0 {
			return token, nil
		}
	}
}
