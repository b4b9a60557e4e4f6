// Package logging provides JSON structured logging with file rotation for
// the vector store, temporal index, and projection service.
package logging
