// Package cli provides the invoicekeeper command-line client.
//
// It wires configuration, the local record store, the credential manager,
// the configured remote backend and the sync engine, and exposes them as
// cobra commands. The shell command starts an interactive REPL that keeps
// the process alive so debounced autosave can fire between commands.
//
// Every command flushes pending writes to the remote store before exiting.
package cli
