// Package notify fans a single notification out to named channels.
//
// A Channel is a pluggable destination (Telegram, Discord). Channels are
// registered by name on an explicitly constructed Registry that the
// Dispatcher receives at startup; there is no global registry.
//
// # Failure policy
//
// Every requested channel is attempted concurrently and the dispatcher waits
// for all of them. Unknown channel names and paused channels are skipped.
// If any attempted channel fails, Notify returns an error that joins one
// *DeliveryError per failing channel, even though other channels (and the
// stored event) succeeded.
package notify
