// Package protocol implements request/response semantics over a
// line-oriented JSON-RPC 2.0 stream.
//
// The Client multiplexes concurrent requests across one child process's
// stdin/stdout pipe pair. Outgoing requests are tagged with monotonically
// increasing integer ids; a single background listener reads one JSON object
// per line from stdout and resolves the matching pending request, so
// responses may arrive in any order. Messages without an id are
// notifications and are routed to an observer callback instead.
//
// Example usage:
//
//	handle, _ := registry.EnsureRunning(ctx, "echo")
//
//	client := protocol.NewClient(log, handle)
//	client.Start(ctx)
//	defer client.Stop()
//
//	result, err := client.SendRequest(ctx, "ping", nil, 30*time.Second)
package protocol
