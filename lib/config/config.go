package config

import (
	"strings"

	"github.com/go-i2p/go-destination/lib/destination"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

// Load reads the config file at path, if any, applies environment
// overrides with the GO_DESTINATION prefix, and returns the engine
// config. A missing file is not an error; the defaults apply.
func Load(path string) (destination.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GO_DESTINATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return destination.Config{}, oops.Errorf("failed to read config file %s: %w", path, err)
		}
		log.WithField("file", v.ConfigFileUsed()).Debug("loaded_config_file")
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	defaults := destination.DefaultConfig()

	v.SetDefault("destination.public", defaults.IsPublic)
	v.SetDefault("destination.nickname", defaults.Nickname)

	v.SetDefault("tunnels.inbound.length", defaults.InboundTunnelLength)
	v.SetDefault("tunnels.inbound.quantity", defaults.InboundTunnelCount)
	v.SetDefault("tunnels.outbound.length", defaults.OutboundTunnelLength)
	v.SetDefault("tunnels.outbound.quantity", defaults.OutboundTunnelCount)
	v.SetDefault("tunnels.explicit_peers", []string{})

	v.SetDefault("lookup.timeout", defaults.LookupTimeout)
	v.SetDefault("lookup.deadline", defaults.LookupDeadline)
	v.SetDefault("lookup.max_floodfills", defaults.MaxFloodfills)

	v.SetDefault("publish.confirmation_timeout", defaults.PublishConfirmationTimeout)
	v.SetDefault("publish.max_attempts", defaults.MaxPublishAttempts)

	v.SetDefault("cache.cleanup_interval", defaults.CleanupInterval)
	v.SetDefault("cache.leaseset2_ttl", defaults.RemoteLeaseSet2TTL)
}

func fromViper(v *viper.Viper) destination.Config {
	return destination.Config{
		IsPublic: v.GetBool("destination.public"),
		Nickname: v.GetString("destination.nickname"),

		InboundTunnelLength:  v.GetInt("tunnels.inbound.length"),
		InboundTunnelCount:   v.GetInt("tunnels.inbound.quantity"),
		OutboundTunnelLength: v.GetInt("tunnels.outbound.length"),
		OutboundTunnelCount:  v.GetInt("tunnels.outbound.quantity"),
		ExplicitPeers:        v.GetStringSlice("tunnels.explicit_peers"),

		LookupTimeout:  v.GetDuration("lookup.timeout"),
		LookupDeadline: v.GetDuration("lookup.deadline"),
		MaxFloodfills:  v.GetInt("lookup.max_floodfills"),

		PublishConfirmationTimeout: v.GetDuration("publish.confirmation_timeout"),
		MaxPublishAttempts:         v.GetInt("publish.max_attempts"),

		CleanupInterval:    v.GetDuration("cache.cleanup_interval"),
		RemoteLeaseSet2TTL: v.GetDuration("cache.leaseset2_ttl"),
	}
}
