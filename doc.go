// Package mcpbridge exposes stdio MCP servers as network-callable endpoints.
//
// MCP servers conventionally speak line-delimited JSON-RPC 2.0 over their
// standard input and output. This package owns the lifecycle of one or more
// such child processes and multiplexes concurrent requests across each
// process's single stdin/stdout pipe pair, giving callers a result per
// request instead of a raw byte stream. Transport adapters (HTTP or
// otherwise) build on the Bridge and only translate framing; they never
// touch processes or pipes.
//
// # Basic Usage
//
// Load a configuration and build a bridge:
//
//	cfg, err := config.Load("mcp-servers.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bridge, err := mcpbridge.New(cfg,
//	    mcpbridge.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bridge.Close()
//
// Servers start lazily on first use. Call any JSON-RPC method by name:
//
//	result, err := bridge.Call(ctx, "filesystem", "tools/list", nil, 30*time.Second)
//
// Responses are correlated by integer id, so concurrent calls to the same
// server are safe and out-of-order replies resolve the right caller.
// Notifications from a server (messages without an id) are delivered to the
// handler registered with WithNotificationHandler and never resolve a call.
//
// # Shutdown
//
// Close stops every server concurrently: SIGTERM, a grace period, then
// SIGKILL. Outstanding calls resolve as cancelled rather than waiting
// forever. Cancellation is explicit through contexts and Close; the package
// installs no signal handlers.
package mcpbridge
