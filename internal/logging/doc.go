// Package logging provides opt-in file-based logging with rotation for the
// indexer and query path. When the --debug flag is set, structured JSON
// logs are written to ~/.codesearch/logs/ for troubleshooting.
//
// By default logging is minimal and goes to stderr only.
package logging
