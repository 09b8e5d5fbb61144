// Package netdb provides the client-side view of the network database:
// an in-memory directory of known floodfill routers with XOR-distance
// selection, and a FloodfillClient that renders directory operations
// into I2NP DatabaseLookup and DatabaseStore messages.
package netdb
