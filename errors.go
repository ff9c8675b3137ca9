package mcpbridge

import "github.com/mludvig/mcp-http-bridge/internal/errors"

// Re-export error types from internal package

// SpawnError indicates a server process could not be launched.
type SpawnError = errors.SpawnError

// StartFailureError indicates the registry failed to start a named server.
type StartFailureError = errors.StartFailureError

// DuplicateNameError indicates a server name was registered twice.
type DuplicateNameError = errors.DuplicateNameError

// UnknownServerError indicates a server name is not configured.
type UnknownServerError = errors.UnknownServerError

// RPCError is an error object reported by a backend server over the wire.
type RPCError = errors.RPCError

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// Re-export sentinel errors from internal package.
var (
	// ErrNotRunning indicates an operation on a server that is not running.
	ErrNotRunning = errors.ErrNotRunning

	// ErrBrokenPipe indicates a server died mid-communication. Retryable
	// once the server is restarted.
	ErrBrokenPipe = errors.ErrBrokenPipe

	// ErrRequestTimeout indicates a request timed out. The caller may retry;
	// a late response for the timed-out request is dropped.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrClientStopped indicates the client was stopped with the request
	// outstanding.
	ErrClientStopped = errors.ErrClientStopped

	// ErrConnectionClosed indicates the server's output stream ended.
	ErrConnectionClosed = errors.ErrConnectionClosed

	// ErrTooManyInFlight indicates the in-flight request cap was reached.
	ErrTooManyInFlight = errors.ErrTooManyInFlight

	// ErrBridgeClosed indicates the bridge has been closed.
	ErrBridgeClosed = errors.ErrBridgeClosed
)
