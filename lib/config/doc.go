// Package config loads destination engine settings from a config file
// and environment overrides, producing a destination.Config.
package config
