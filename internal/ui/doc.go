// Package ui provides terminal output components for the blufi CLI.
//
// Components render once and return strings; commands print them. They use
// Lipgloss for styling and golang.org/x/term for the terminal width and the
// hidden password prompt.
//
//   - Header: command banner with the target device and transport
//   - Result: success, warning and failure boxes with ordered details
//   - Table: column-aligned listings (scan results, devices, gateways)
//   - ReadPassword / Confirm: interactive prompts
//   - Spin: a Bubble Tea spinner on stderr while a blocking call runs
//
// # Logging Integration
//
// zap logging is controlled via BLUFI_LOG_LEVEL or --log-level. When unset,
// logging is silent so that only the curated UI output is shown.
package ui
