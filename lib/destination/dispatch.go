package destination

import (
	"time"

	"github.com/go-i2p/go-destination/lib/i2np"
	"github.com/go-i2p/logger"
)

// maxGarlicDepth bounds nested garlic unwrapping of hostile input.
const maxGarlicDepth = 4

// HandleI2NPMessage submits a decrypted inbound message to the engine.
// Safe from any goroutine; malformed or unexpected input is dropped
// with a log event, never a failure of the engine.
//
// The sending tunnel and sender identity are not visible at this
// boundary: tunnel-layer decryption strips them before delivery here,
// and protocols that need the remote identity (streaming SYN frames,
// signed datagrams) recover it from their own payload.
func (d *Destination) HandleI2NPMessage(data []byte) error {
	// Copy: the caller's buffer may be reused once we return.
	owned := append([]byte(nil), data...)
	return d.post(func() {
		d.dispatchMessage(owned, 0)
	})
}

// dispatchMessage classifies one I2NP message by type tag and routes it.
func (d *Destination) dispatchMessage(data []byte, depth int) {
	msg, err := i2np.ReadMessage(data)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "destination.dispatchMessage",
			"reason": "malformed header",
		}).WithError(err).Warn("dropped_message")
		return
	}

	switch msg.Type {
	case i2np.TypeDatabaseStore:
		d.handleDatabaseStore(msg.Payload)
	case i2np.TypeDatabaseSearchReply:
		d.handleDatabaseSearchReply(msg.Payload)
	case i2np.TypeDeliveryStatus:
		status, err := i2np.ReadDeliveryStatus(msg.Payload)
		if err != nil {
			log.WithFields(logger.Fields{
				"at": "destination.dispatchMessage",
			}).WithError(err).Warn("dropped_delivery_status")
			return
		}
		d.handleDeliveryStatus(status.MessageID)
	case i2np.TypeGarlic:
		d.handleGarlic(msg.Payload, depth)
	case i2np.TypeData:
		d.handleDataMessage(msg.Payload)
	default:
		log.WithFields(logger.Fields{
			"at":   "destination.dispatchMessage",
			"type": msg.Type,
		}).Warn("dropped_unexpected_message_type")
	}
}

// handleGarlic unwraps a garlic envelope and re-dispatches the
// plaintext message it carried.
func (d *Destination) handleGarlic(payload []byte, depth int) {
	if d.garlic == nil {
		log.WithFields(logger.Fields{
			"at":     "destination.handleGarlic",
			"reason": "no garlic service",
		}).Warn("dropped_garlic_message")
		return
	}
	if depth >= maxGarlicDepth {
		log.WithFields(logger.Fields{
			"at":     "destination.handleGarlic",
			"reason": "nesting too deep",
		}).Warn("dropped_garlic_message")
		return
	}
	plaintext, err := d.garlic.Decrypt(payload)
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "destination.handleGarlic",
		}).WithError(err).Warn("dropped_garlic_message")
		return
	}
	d.dispatchMessage(plaintext, depth+1)
}

// handleDatabaseStore caches a LeaseSet record and resolves a pending
// lookup for its key. Unsolicited stores are cached at face value,
// bounded by their embedded expiry.
func (d *Destination) handleDatabaseStore(payload []byte) {
	store, err := i2np.ReadDatabaseStore(payload)
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "destination.handleDatabaseStore",
		}).WithError(err).Warn("dropped_database_store")
		return
	}

	if store.Type == i2np.StoreTypeRouterInfo {
		// Router records belong to the router's netdb, not here.
		log.WithFields(logger.Fields{
			"at":  "destination.handleDatabaseStore",
			"key": store.Key,
		}).Debug("ignored_router_info_store")
		return
	}

	entry, err := parseRemoteLeaseSet(store.Key, store.Type, store.Data, time.Now(), d.cfg.RemoteLeaseSet2TTL)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":  "destination.handleDatabaseStore",
			"key": store.Key,
		}).WithError(err).Warn("dropped_database_store")
		return
	}

	d.cache.Store(entry)
	d.completeRequest(store.Key, entry, "")
}

// handleDatabaseSearchReply merges suggested peers into the pending
// lookup for the key and moves on to the next candidate immediately.
func (d *Destination) handleDatabaseSearchReply(payload []byte) {
	reply, err := i2np.ReadDatabaseSearchReply(payload)
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "destination.handleDatabaseSearchReply",
		}).WithError(err).Warn("dropped_search_reply")
		return
	}

	req, ok := d.requests[reply.Key]
	if !ok {
		log.WithFields(logger.Fields{
			"at":  "destination.handleDatabaseSearchReply",
			"key": reply.Key,
		}).Debug("search_reply_without_request")
		return
	}

	added := req.addCandidates(reply.PeerHashes)
	log.WithFields(logger.Fields{
		"at":        "destination.handleDatabaseSearchReply",
		"key":       reply.Key,
		"suggested": len(reply.PeerHashes),
		"added":     added,
	}).Debug("merged_search_reply")

	if added > 0 {
		d.sendLeaseSetRequest(req)
	}
}

// handleDataMessage routes an addressed client payload to the handler
// for its protocol and destination port.
func (d *Destination) handleDataMessage(payload []byte) {
	dp, err := i2np.ReadDataPayload(payload)
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "destination.handleDataMessage",
		}).WithError(err).Warn("dropped_data_message")
		return
	}

	switch dp.Protocol {
	case i2np.ProtocolStreaming:
		h := d.registry.streamingFor(dp.DestPort)
		if h == nil {
			log.WithFields(logger.Fields{
				"at":   "destination.handleDataMessage",
				"port": dp.DestPort,
			}).Warn("dropped_streaming_payload_no_handler")
			return
		}
		d.deliver(h, dp)
	case i2np.ProtocolDatagram, i2np.ProtocolRaw:
		h := d.registry.datagramHandler()
		if h == nil {
			log.WithFields(logger.Fields{
				"at":       "destination.handleDataMessage",
				"protocol": dp.Protocol,
			}).Warn("dropped_datagram_payload_no_handler")
			return
		}
		d.deliver(h, dp)
	default:
		log.WithFields(logger.Fields{
			"at":       "destination.handleDataMessage",
			"protocol": dp.Protocol,
		}).Warn("dropped_unknown_protocol")
	}
}

func (d *Destination) deliver(h ProtocolHandler, dp i2np.DataPayload) {
	if err := h.Deliver(dp.SrcPort, dp.DestPort, dp.Frame); err != nil {
		log.WithFields(logger.Fields{
			"at":       "destination.deliver",
			"protocol": dp.Protocol,
			"port":     dp.DestPort,
		}).WithError(err).Warn("handler_delivery_failed")
	}
}
