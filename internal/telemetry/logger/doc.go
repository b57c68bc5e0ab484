// Package logger provides structured logging for tidekv.
//
// It wraps the standard library log/slog:
//
//   - logger.go: Logger interface, handler selection (json, text, console)
//   - redact.go: masking of secrets and raw values
//   - context.go: passing a Logger through a context
//
// The console format uses a colored handler when the output is a terminal.
package logger
