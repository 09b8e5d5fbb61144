package netdb

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-destination/lib/destination"
	"github.com/go-i2p/go-destination/lib/i2np"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// MessageSender delivers a rendered I2NP message to a router, typically
// through an outbound tunnel. Fire-and-forget.
type MessageSender interface {
	SendToRouter(peer common.Hash, message []byte) error
}

// GarlicWrapper encrypts a message for a router so intermediate hops
// cannot read it.
type GarlicWrapper interface {
	WrapForSend(message []byte, peer common.Hash) ([]byte, error)
}

// FloodfillClient implements destination.DirectoryClient: it selects
// floodfill peers from the directory and renders lookups and stores
// into I2NP messages handed to the sender.
type FloodfillClient struct {
	directory *FloodfillDirectory
	sender    MessageSender
	wrapper   GarlicWrapper
}

var _ destination.DirectoryClient = (*FloodfillClient)(nil)

func NewFloodfillClient(directory *FloodfillDirectory, sender MessageSender) *FloodfillClient {
	return &FloodfillClient{
		directory: directory,
		sender:    sender,
	}
}

// WithGarlicWrapper makes the client garlic-wrap outgoing directory
// messages for their floodfill.
func (c *FloodfillClient) WithGarlicWrapper(wrapper GarlicWrapper) *FloodfillClient {
	c.wrapper = wrapper
	return c
}

// SelectFloodfillPeers returns up to count floodfills closest to
// target, excluding the given peers.
func (c *FloodfillClient) SelectFloodfillPeers(target common.Hash, count int, exclude []common.Hash) []common.Hash {
	return c.directory.SelectFloodfillPeers(target, count, exclude)
}

// SendDirectoryLookup renders a LeaseSet DatabaseLookup for target and
// sends it to peer. The reply is requested through the given inbound
// tunnel; exclude carries the peers already queried.
func (c *FloodfillClient) SendDirectoryLookup(peer, target common.Hash, reply destination.ReplyPath, exclude []common.Hash) error {
	flags := i2np.LookupFlagLeaseSet
	if reply != (destination.ReplyPath{}) {
		flags |= i2np.LookupFlagTunnelReply
	}

	lookup := i2np.DatabaseLookup{
		Key:           target,
		From:          reply.Gateway,
		Flags:         flags,
		ReplyTunnelID: reply.TunnelID,
		Excluded:      exclude,
	}
	payload, err := lookup.MarshalBinary()
	if err != nil {
		return oops.Errorf("failed to render database lookup: %w", err)
	}

	if err := c.send(peer, i2np.TypeDatabaseLookup, payload); err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"at":       "netdb.FloodfillClient.SendDirectoryLookup",
		"peer":     peer,
		"target":   target,
		"excluded": len(exclude),
	}).Debug("sent_database_lookup")
	return nil
}

// SendDirectoryStore renders a DatabaseStore publishing leaseSet under
// key to peer, with token requesting a DeliveryStatus confirmation
// through the reply tunnel.
func (c *FloodfillClient) SendDirectoryStore(peer, key common.Hash, leaseSet []byte, token uint32, reply destination.ReplyPath) error {
	store := i2np.DatabaseStore{
		Key:           key,
		Type:          i2np.StoreTypeLeaseSet2,
		ReplyToken:    token,
		ReplyTunnelID: reply.TunnelID,
		ReplyGateway:  reply.Gateway,
		Data:          leaseSet,
	}
	payload, err := store.MarshalBinary()
	if err != nil {
		return oops.Errorf("failed to render database store: %w", err)
	}

	if err := c.send(peer, i2np.TypeDatabaseStore, payload); err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"at":    "netdb.FloodfillClient.SendDirectoryStore",
		"peer":  peer,
		"key":   key,
		"token": token,
	}).Debug("sent_database_store")
	return nil
}

// send wraps the payload in a standard header, optionally garlic-wraps
// it for peer, and hands it to the sender.
func (c *FloodfillClient) send(peer common.Hash, msgType int, payload []byte) error {
	msgID, err := i2np.NewMessageID()
	if err != nil {
		return err
	}
	msg := i2np.Message{
		Type:      msgType,
		MessageID: msgID,
		Payload:   payload,
	}
	rendered, err := msg.MarshalBinary()
	if err != nil {
		return oops.Errorf("failed to render i2np message: %w", err)
	}

	if c.wrapper != nil {
		rendered, err = c.wrapper.WrapForSend(rendered, peer)
		if err != nil {
			return oops.Errorf("failed to garlic wrap message: %w", err)
		}
	}

	return c.sender.SendToRouter(peer, rendered)
}
