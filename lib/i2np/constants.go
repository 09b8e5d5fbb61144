package i2np

// I2NP message type tags handled by a client destination.
const (
	TypeDatabaseStore       = 1
	TypeDatabaseLookup      = 2
	TypeDatabaseSearchReply = 3
	TypeDeliveryStatus      = 10
	TypeGarlic              = 11
	TypeData                = 20
)

// DatabaseStore entry types.
const (
	StoreTypeRouterInfo = 0
	StoreTypeLeaseSet   = 1
	StoreTypeLeaseSet2  = 3
)

// Client protocol ids carried in the Data message framing.
const (
	ProtocolStreaming = 6
	ProtocolDatagram  = 17
	ProtocolRaw       = 18
)

// DatabaseLookup flag bits.
const (
	// LookupFlagTunnelReply requests delivery of the reply through the
	// tunnel named by the reply tunnel id field.
	LookupFlagTunnelReply byte = 0x01
	// LookupFlagLeaseSet sets the lookup type bits (3-2) to 01, a
	// LeaseSet-only lookup.
	LookupFlagLeaseSet byte = 0x04
)
