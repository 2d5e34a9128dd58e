// Package logging provides structured JSON logging with size-based file
// rotation for loupe. Logs go to <data_root>/logs/loupe.log by default,
// optionally mirrored to stderr; `loupe logs` reads the same files back.
package logging
