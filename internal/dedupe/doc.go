// Package dedupe suppresses chat messages the gateway delivers more than once,
// for example after a socket reconnect replays recent pushes.
package dedupe
