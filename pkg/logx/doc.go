// Package logx configures gatebot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// The Service owns the sinks and can re-apply config at runtime without
// invalidating loggers that were handed out earlier.
package logx
