// Package logging provides structured logging for the blufi tools.
//
// This package wraps zap with the console configuration shared by the CLI
// and the emulator, plus helpers for logging raw protocol frames.
//
// # Log Levels
//
//   - Debug: Frame hex dumps, fragment and reassembly progress
//   - Info: Connections, completed operations, negotiated keys installed
//   - Warn: Sequence mismatches, unknown subtypes, device error reports
//   - Error: Checksum failures, transport errors
//
// # Silent by Default
//
// Logging is off unless a level is passed to Initialize or BLUFI_LOG_LEVEL
// is set. Command output is written to stdout and logs to stderr.
//
// # Explicit Sinks
//
// Library packages never log through the package logger directly. A
// *zap.Logger is passed into each component; the CLI derives them with
// Named:
//
//	client := blufi.NewClient(t, cfg, logging.Named("blufi"))
//
// # Frame Logging
//
//	log.Debug("Frame sent", logging.FrameFields("out", raw)...)
package logging
