// Package adapter implements the two ways the bridge talks to a bot gateway.
//
// HTTPAdapter polls: verify and bind produce a session key that every later call
// carries in a header, and Listen fetches bounded batches at a fixed interval.
// WSAdapter streams: one socket per bot carries requests tagged with a sync id,
// their correlated replies, and unsolicited pushes. Sync ids come from a fixed
// pool of MaxSyncID values, so no two in-flight requests share one.
//
// Both adapters expose the same typed API and publish inbound items on two
// feeds, Messages and Events, in arrival order.
package adapter
