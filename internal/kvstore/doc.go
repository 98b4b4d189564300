// Package kvstore provides named, crash-durable key/value stores.
//
// Reads and writes are synchronous against the in-memory map; mutations
// schedule a debounced asynchronous disk write (temp file + atomic rename),
// so callers get plain-map latency on hot paths while still surviving
// restarts. The debounce window is the only exposure to data loss, and
// Flush closes it for graceful shutdown.
//
// Stores are handed out by a Registry: Open with the same name returns the
// same instance, so independent subsystems sharing a store name observe the
// same in-memory state. Each named store owns its backing file exclusively.
package kvstore
