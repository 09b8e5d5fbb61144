package destination

import (
	"io"
	"time"

	common "github.com/go-i2p/common/data"
)

// TunnelInfo describes an outbound tunnel the engine can send through.
type TunnelInfo struct {
	ID      uint32
	Gateway common.Hash
}

// LeaseInfo describes an inbound tunnel endpoint the engine can be
// reached at. The pool reports only tunnels it considers usable; the
// engine still filters on Expires.
type LeaseInfo struct {
	Gateway  common.Hash
	TunnelID uint32
	Expires  time.Time
}

// ReplyPath names the inbound tunnel a remote peer should answer
// through. A zero ReplyPath requests a direct reply.
type ReplyPath struct {
	Gateway  common.Hash
	TunnelID uint32
}

// TunnelPool is the engine's view of its tunnel pools. Implementations
// must be safe for concurrent use; OnChange callbacks may fire from any
// goroutine.
type TunnelPool interface {
	Start() error
	Stop()
	GetOutboundTunnels() []TunnelInfo
	GetInboundLeases() []LeaseInfo
	OnChange(notify func())
}

// DirectoryClient selects floodfill peers and sends directory messages.
// Sends are fire-and-forget: completion is observed through inbound
// DatabaseStore, DatabaseSearchReply, and DeliveryStatus messages.
type DirectoryClient interface {
	SelectFloodfillPeers(target common.Hash, count int, exclude []common.Hash) []common.Hash
	SendDirectoryLookup(peer, target common.Hash, reply ReplyPath, exclude []common.Hash) error
	SendDirectoryStore(peer, key common.Hash, leaseSet []byte, token uint32, reply ReplyPath) error
}

// GarlicService unwraps a garlic envelope into a plaintext I2NP
// message. Record authenticity, signature checks included, is this
// collaborator's contract.
type GarlicService interface {
	Decrypt(raw []byte) ([]byte, error)
}

// ProtocolHandler consumes addressed client payloads for one protocol.
type ProtocolHandler interface {
	// Deliver hands over one framed payload. The sender's identity is
	// not a parameter: it is gone by the time tunnel decryption yields
	// the frame, and handlers that need it (streaming SYNs, signed
	// datagrams) parse it out of the frame itself. Errors are logged
	// and do not affect engine state.
	Deliver(srcPort, destPort uint16, frame []byte) error
	Close() error
}

// StreamAcceptor receives inbound streams on an accepting destination.
type StreamAcceptor func(stream io.ReadWriteCloser)

// StreamingHandler is a ProtocolHandler that also manages streams.
type StreamingHandler interface {
	ProtocolHandler
	SetAcceptor(acceptor StreamAcceptor)
	ClearAcceptor()
	OpenStream(remote *RemoteLeaseSet, port uint16) (io.ReadWriteCloser, error)
}
