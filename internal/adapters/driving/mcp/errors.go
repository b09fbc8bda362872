// Package mcp provides an MCP (Model Context Protocol) server adapter for memweave.
// It lets AI assistants store, search and fuse memories across every
// registered backend.
package mcp

import "errors"

// ErrMissingMemoryService is returned when the memory service is not provided.
var ErrMissingMemoryService = errors.New("mcp: memory service is required")
