// Package errors defines error types for the stdio bridge.
//
// This package provides structured error types that wrap the different
// failure scenarios of spawning and talking to stdio JSON-RPC servers.
// All error types support error unwrapping and can be checked using
// errors.Is, errors.As, and errors.AsType.
package errors
