package destination

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Lookup and publish timing, from the I2P client destination protocol.
const (
	// DefaultLookupTimeout is the per-floodfill attempt timeout.
	DefaultLookupTimeout = 5 * time.Second
	// DefaultLookupDeadline is the hard ceiling on a whole lookup.
	DefaultLookupDeadline = 40 * time.Second
	// MaxFloodfillsPerRequest bounds how many peers one lookup may query.
	MaxFloodfillsPerRequest = 7
	// DefaultPublishConfirmationTimeout bounds the wait for a
	// DeliveryStatus confirming a published LeaseSet.
	DefaultPublishConfirmationTimeout = 5 * time.Second
	// DefaultMaxPublishAttempts bounds retries within one publish cycle.
	DefaultMaxPublishAttempts = 5
	// DefaultCleanupInterval drives cache eviction and publish rechecks.
	DefaultCleanupInterval = 20 * time.Minute
	// DefaultRemoteLeaseSet2TTL bounds cached LeaseSet2 entries, which
	// carry no parsed expiration the engine can read.
	DefaultRemoteLeaseSet2TTL = 10 * time.Minute
)

// I2CP option keys accepted by ApplyParams.
const (
	ParamInboundTunnelLength  = "inbound.length"
	ParamOutboundTunnelLength = "outbound.length"
	ParamInboundTunnelCount   = "inbound.quantity"
	ParamOutboundTunnelCount  = "outbound.quantity"
	ParamExplicitPeers        = "explicitPeers"
)

// I2CP option defaults.
const (
	DefaultTunnelLength = 3
	DefaultTunnelCount  = 5
)

// Config carries the tunable behavior of a Destination. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	// Tunnel parameters, forwarded to the pool implementation.
	InboundTunnelLength  int
	OutboundTunnelLength int
	InboundTunnelCount   int
	OutboundTunnelCount  int
	ExplicitPeers        []string

	// IsPublic controls whether the LeaseSet is published to floodfills.
	IsPublic bool
	Nickname string

	LookupTimeout              time.Duration
	LookupDeadline             time.Duration
	MaxFloodfills              int
	PublishConfirmationTimeout time.Duration
	MaxPublishAttempts         int
	CleanupInterval            time.Duration
	RemoteLeaseSet2TTL         time.Duration
}

// DefaultConfig returns the protocol defaults for a public destination.
func DefaultConfig() Config {
	return Config{
		InboundTunnelLength:        DefaultTunnelLength,
		OutboundTunnelLength:       DefaultTunnelLength,
		InboundTunnelCount:         DefaultTunnelCount,
		OutboundTunnelCount:        DefaultTunnelCount,
		IsPublic:                   true,
		LookupTimeout:              DefaultLookupTimeout,
		LookupDeadline:             DefaultLookupDeadline,
		MaxFloodfills:              MaxFloodfillsPerRequest,
		PublishConfirmationTimeout: DefaultPublishConfirmationTimeout,
		MaxPublishAttempts:         DefaultMaxPublishAttempts,
		CleanupInterval:            DefaultCleanupInterval,
		RemoteLeaseSet2TTL:         DefaultRemoteLeaseSet2TTL,
	}
}

// ApplyParams overlays I2CP-style string options onto the config. Keys
// it does not know are ignored; unparsable values are errors.
func (c *Config) ApplyParams(params map[string]string) error {
	for key, value := range params {
		switch key {
		case ParamInboundTunnelLength:
			n, err := parsePositiveInt(key, value)
			if err != nil {
				return err
			}
			c.InboundTunnelLength = n
		case ParamOutboundTunnelLength:
			n, err := parsePositiveInt(key, value)
			if err != nil {
				return err
			}
			c.OutboundTunnelLength = n
		case ParamInboundTunnelCount:
			n, err := parsePositiveInt(key, value)
			if err != nil {
				return err
			}
			c.InboundTunnelCount = n
		case ParamOutboundTunnelCount:
			n, err := parsePositiveInt(key, value)
			if err != nil {
				return err
			}
			c.OutboundTunnelCount = n
		case ParamExplicitPeers:
			c.ExplicitPeers = splitPeers(value)
		}
	}
	return nil
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, oops.Errorf("invalid value for %s: %q", key, value)
	}
	return n, nil
}

func splitPeers(value string) []string {
	var peers []string
	for _, peer := range strings.Split(value, ",") {
		peer = strings.TrimSpace(peer)
		if peer != "" {
			peers = append(peers, peer)
		}
	}
	return peers
}
