// Package config loads Scratchpad runtime configuration.
//
// Values are layered with koanf: built-in defaults, then an optional YAML
// file, then SCRATCHPAD_* environment variables. Command-line flags are
// applied on top by the CLI.
//
// Example file:
//
//	store:
//	  driver: sqlite
//	  path: scratchpad.db
//	connectors:
//	  file_dir: remote
//	  breaker:
//	    failure_threshold: 3
//	backup:
//	  root: backups
//	  schedule: "0 * * * *"
//	  workbooks: [content]
package config
