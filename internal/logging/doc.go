// Package logging provides file-based logging with rotation for
// indexserver and indexworker. Logs are written to ~/.codeindexmcp/logs/
// for debugging and troubleshooting; indexserver takes its level from
// the log_level setting.
//
// indexserver runs in MCP stdio mode and logs to its file only, never
// to stderr, since stdout/stderr are reserved for the JSON-RPC stream.
// indexworker logs to its file and to stderr.
package logging
