// Package process owns the lifecycle of stdio MCP server child processes.
//
// A Handle wraps one spawned process and its three pipes, exposing
// line-oriented reads and writes plus start/stop transitions. Handles are
// single-use: once stopped they stay stopped, and a fresh Handle must be
// constructed to run the server again.
//
// A Registry is a named collection of handles. It enforces name uniqueness,
// starts servers lazily on demand, and coordinates shutdown. The Registry is
// the exclusive owner of every handle it creates; other components use
// handles without terminating them.
package process
