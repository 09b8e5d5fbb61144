// Package keys holds the destination identity: an Ed25519 signing key
// pair and an X25519 encryption key pair assembled into a Destination,
// plus the SHA256 identity hash the network addresses it by.
package keys
