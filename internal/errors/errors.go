package errors

import (
	"errors"
	"fmt"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*SpawnError)(nil)
	_ BridgeError = (*StartFailureError)(nil)
	_ BridgeError = (*DuplicateNameError)(nil)
	_ BridgeError = (*UnknownServerError)(nil)
	_ BridgeError = (*RPCError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotRunning indicates an operation was attempted on a handle whose
	// process is not running.
	ErrNotRunning = errors.New("process not running")

	// ErrHandleStopped indicates the handle has reached its terminal state.
	// Handles are single-use; construct a new one to restart the process.
	ErrHandleStopped = errors.New("handle stopped: handles are single-use, create a new one")

	// ErrBrokenPipe indicates the child process died mid-communication.
	// The operation may be retried after the server is restarted.
	ErrBrokenPipe = errors.New("broken pipe: child process closed the stream")

	// ErrRequestTimeout indicates no response arrived within the deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrClientStopped indicates the client was stopped while requests were
	// outstanding. Not retryable on the same client instance.
	ErrClientStopped = errors.New("rpc client stopped")

	// ErrConnectionClosed indicates the child's stdout reached EOF.
	ErrConnectionClosed = errors.New("connection closed by child process")

	// ErrTooManyInFlight indicates the per-client in-flight request cap
	// was reached.
	ErrTooManyInFlight = errors.New("too many in-flight requests")

	// ErrBridgeClosed indicates the bridge has been closed and cannot be
	// reused.
	ErrBridgeClosed = errors.New("bridge closed")
)

// SpawnError indicates a child process could not be launched.
// Fatal to that server, not to the registry.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *SpawnError) IsBridgeError() bool { return true }

// StartFailureError indicates the registry failed to start a named server.
// Wraps the underlying spawn error.
type StartFailureError struct {
	Server string
	Err    error
}

func (e *StartFailureError) Error() string {
	return fmt.Sprintf("failed to start server %q: %v", e.Server, e.Err)
}

func (e *StartFailureError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *StartFailureError) IsBridgeError() bool { return true }

// DuplicateNameError indicates a server name was registered twice.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("server %q already registered", e.Name)
}

// IsBridgeError implements BridgeError.
func (e *DuplicateNameError) IsBridgeError() bool { return true }

// UnknownServerError indicates a server name is not present in the registry.
type UnknownServerError struct {
	Name string
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("unknown server %q", e.Name)
}

// IsBridgeError implements BridgeError.
func (e *UnknownServerError) IsBridgeError() bool { return true }

// RPCError is an error object reported by the child over the wire.
// It resolves the request that triggered it and nothing else.
type RPCError struct {
	Code    int
	Message string
	Data    []byte
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsBridgeError implements BridgeError.
func (e *RPCError) IsBridgeError() bool { return true }
