// Package config handles configuration loading for pie-bridge.
//
// # Overview
//
// Configuration is loaded from a TOML file with environment variable expansion.
// Every optional field has a default; Validate rejects the rest.
//
// # Configuration File
//
// Lookup order:
//
//  1. The --config flag
//  2. PIE_BRIDGE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/pie-bridge/config.toml
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}. Unset
// variables expand to the empty string:
//
//	[gateway]
//	verify_key = "${PIE_VERIFY_KEY}"
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax:
//
//	[gateway]
//	poll_interval = "500ms"
//	request_timeout = "2s"
//	settle_delay = "100ms"
//
//	[dedupe]
//	ttl = "5m"
//
// # Configuration Sections
//
// Gateway connection:
//
//	[gateway]
//	adapter = "ws"               # "ws" (streaming) or "http" (polling)
//	url = "http://127.0.0.1:8080"
//	qq = 10000                   # bot account
//	fetch_count = 10             # polling batch size
//
// Plugins:
//
//	[plugins]
//	config_path = "plugins.yaml" # relative to the config file
//	watch = true                 # reload values when the file changes
//	disabled = ["pie.builtin.greeter"]
//
// Storage:
//
//	[database]
//	driver = "sqlite"            # "sqlite" (pure Go) or "sqlite3" (cgo)
//	path = "~/.local/share/pie-bridge/pie.db"
//
// Logging and metrics:
//
//	[logging]
//	level = "info"               # debug, info, warn, error
//	format = "text"              # text or json
//
//	[metrics]
//	enabled = false
//	addr = "127.0.0.1:9464"
//	path = "/metrics"
package config
