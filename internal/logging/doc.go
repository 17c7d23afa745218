// Package logging provides a context-aware zap logger for ragd.
//
// Log calls take a context.Context first so that correlation fields
// (request ID, user ID, trace/span IDs) carried by the request context
// are attached to every entry automatically.
package logging
