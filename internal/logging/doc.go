// Package logging configures slog handlers for the daemon and CLI and
// provides attribute helpers with the standardized field keys used across
// the codebase.
package logging
