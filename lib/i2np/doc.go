// Package i2np implements the I2NP wire formats a client destination
// parses and builds: the standard 16-byte message header, DatabaseStore,
// DatabaseLookup, DatabaseSearchReply, DeliveryStatus, and the Data
// message payload framing that carries ports and a protocol id.
//
// https://geti2p.net/spec/i2np
package i2np
