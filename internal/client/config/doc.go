// Package config loads runtime configuration for the invoicekeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see Defaults).
//  2. Optional JSON file selected with -c/--config or INVOICEKEEPER_CONFIG.
//  3. Environment variables prefixed INVOICEKEEPER_.
//  4. Command-line flags registered by RegisterFlags, when explicitly set.
//
// # JSON schema
//
// Durations use timex.Duration, so they can be strings like "2s" or integer
// nanoseconds. Keys missing from the file keep their previous value:
//
//	{
//	  "database_path": "/home/me/.config/invoicekeeper/invoicekeeper.db",
//	  "backend": "drive",
//	  "environment": "prod",
//	  "oauth": {"client_id": "", "client_secret": ""},
//	  "drive": {"max_retries": 3, "retry_base": "500ms"},
//	  "s3": {"region": "eu-central-1", "bucket": "invoices", "prefix": "backups"},
//	  "sync": {"debounce": "2s", "retention_count": 10, "renewal_lookahead": "5m"},
//	  "log": {"backend": "slog", "format": "text", "level": "info", "file": ""}
//	}
package config
