// Package types defines the browse index definitions, scopes, result pages,
// the metadata-source interface, and standard error types for the browsedex
// engine.
package types
