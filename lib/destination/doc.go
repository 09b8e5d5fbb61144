// Package destination implements the client-side endpoint engine of an
// I2P router. A Destination owns a local identity, publishes its
// LeaseSet to floodfill peers, resolves remote LeaseSets with a
// retry/exclusion lookup protocol, and demultiplexes decrypted inbound
// I2NP messages to per-port protocol handlers.
//
// All engine state is owned by a single event-loop goroutine. Public
// operations marshal onto that loop; accessors like IsReady and
// IsAcceptingStreams read atomics and are safe from any goroutine.
package destination
