// Package store persists what the bridge sees and how its pies are configured.
//
// Three tables back the Store interface:
//
//   - messages: inbound chat messages with their window, sender and raw payload
//   - events: inbound gateway events with their raw payload
//   - plugin_records: one row per pie holding version, enabled flag, config and source
//
// SQLiteStore runs on modernc.org/sqlite ("sqlite", pure Go) by default, or on
// mattn/go-sqlite3 ("sqlite3") for cgo builds. MockStore is an in-memory
// implementation for tests.
package store
