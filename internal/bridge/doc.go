// Package bridge assembles a running bot.
//
// New builds the store, the gateway adapter chosen by gateway.adapter, the pie
// agent, the dispatch router, the dedupe cache and the metrics registry. Run
// then installs the built-in pies plus any passed with WithPies, applies the
// plugin config file, performs the verify and bind handshake and listens until
// its context ends or the adapter fails.
//
// # Endpoints
//
// When metrics are enabled an HTTP server on metrics.addr serves:
//
//   - /health: always 200 while the process runs
//   - /health/ready: 200 while inbound items are flowing, 503 otherwise
//   - metrics.path: Prometheus metrics
//
// # Shutdown
//
// On shutdown the session is released, the adapter stops, running handlers are
// drained for up to five seconds and the store is closed.
package bridge
