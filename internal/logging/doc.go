// Package logging builds the slog loggers used across ogreclient, with a
// console handler for interactive runs, a JSON handler for machine-readable
// output, and a capture buffer that feeds end-of-run log shipping.
package logging
