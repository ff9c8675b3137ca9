package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mludvig/mcp-http-bridge/internal/config"
	"github.com/mludvig/mcp-http-bridge/internal/errors"
	"github.com/mludvig/mcp-http-bridge/internal/process"
	"github.com/mludvig/mcp-http-bridge/internal/protocol"
)

// defaultCallTimeout bounds a Call when the caller passes no timeout.
const defaultCallTimeout = 30 * time.Second

// Bridge exposes configured stdio MCP servers as callable endpoints.
//
// It is the thin composition handed to transport adapters: the registry owns
// the child processes, one RPC client per server multiplexes requests over
// the process's pipes, and the Bridge wires the two together, creating both
// lazily on first use.
type Bridge struct {
	log            *slog.Logger
	defaultTimeout time.Duration
	grace          time.Duration
	maxInFlight    int
	onNotification NotificationHandler

	registry *process.Registry

	mu      sync.Mutex
	clients map[string]*clientEntry
	closed  bool
}

// clientEntry pairs a client with the handle generation it was built on, so
// a restarted server gets a fresh client.
type clientEntry struct {
	handle *process.Handle
	client *protocol.Client
}

// New builds a bridge from validated configuration. Servers are registered
// but not started; the first Call or Notify to a server starts it.
func New(cfg *config.Config, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		log:            NopLogger(),
		defaultTimeout: defaultCallTimeout,
		grace:          process.DefaultGracePeriod,
		clients:        make(map[string]*clientEntry, len(cfg.MCPServers)),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.registry = process.NewRegistry(b.log, b.grace)

	for name, spec := range cfg.Specs() {
		if err := b.registry.Register(name, spec); err != nil {
			return nil, fmt.Errorf("register server: %w", err)
		}
	}

	b.log.Info("Bridge configured", "servers", b.registry.Names())

	return b, nil
}

// Call sends one request to the named server and returns its result.
//
// The server is started if it is not running. A non-positive timeout uses
// the bridge default. The result is the response's result member, or a typed
// error: *StartFailureError, *UnknownServerError, *RPCError,
// ErrRequestTimeout, ErrClientStopped, among others.
func (b *Bridge) Call(
	ctx context.Context,
	server, method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	client, err := b.clientFor(ctx, server)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	return client.SendRequest(ctx, method, params, timeout)
}

// Notify sends a fire-and-forget notification to the named server, starting
// it if necessary.
func (b *Bridge) Notify(ctx context.Context, server, method string, params any) error {
	client, err := b.clientFor(ctx, server)
	if err != nil {
		return err
	}

	return client.SendNotification(ctx, method, params)
}

// Status returns a point-in-time snapshot of server name to running state.
func (b *Bridge) Status() map[string]bool {
	return b.registry.Status()
}

// Servers returns the configured server names in sorted order.
func (b *Bridge) Servers() []string {
	return b.registry.Names()
}

// Close stops every server and client. Outstanding requests resolve as
// cancelled; no caller is left waiting. Idempotent. The returned error joins
// individual stop failures without having aborted any of them.
func (b *Bridge) Close() error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true

	entries := make([]*clientEntry, 0, len(b.clients))
	for _, entry := range b.clients {
		entries = append(entries, entry)
	}

	b.mu.Unlock()

	b.log.Info("Closing bridge")

	// Stop processes first: closing their pipes unblocks every response
	// listener. Then cancel the clients so outstanding callers drain.
	err := b.registry.StopAll()

	for _, entry := range entries {
		entry.client.Stop()
	}

	return err
}

// clientFor returns a live client for the named server, starting the server
// and building the client as needed. A client is bound to one handle
// generation: when the registry has replaced a stopped server's handle, the
// stale client is discarded and a new one started.
func (b *Bridge) clientFor(ctx context.Context, server string) (*protocol.Client, error) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return nil, errors.ErrBridgeClosed
	}

	b.mu.Unlock()

	handle, err := b.registry.EnsureRunning(ctx, server)
	if err != nil {
		return nil, err
	}

	return b.bindClient(ctx, server, handle)
}

// bindClient caches a started client for the handle. When Close raced with
// the server start, the stop pass cannot have seen this handle, so it is
// stopped here before the caller is refused.
func (b *Bridge) bindClient(
	ctx context.Context,
	server string,
	handle *process.Handle,
) (*protocol.Client, error) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		b.log.Warn("Server started during close, stopping it", "server", server)

		if err := handle.Stop(b.grace); err != nil {
			b.log.Warn("Stopping raced server failed", "server", server, "error", err)
		}

		return nil, errors.ErrBridgeClosed
	}

	defer b.mu.Unlock()

	if entry, ok := b.clients[server]; ok && entry.handle == handle {
		select {
		case <-entry.client.Done():
			// Stream died but the handle survived; fall through and rebuild.
		default:
			return entry.client, nil
		}
	}

	var opts []protocol.Option

	if b.onNotification != nil {
		fn := b.onNotification
		opts = append(opts, protocol.WithNotificationHandler(
			func(method string, params json.RawMessage) {
				fn(server, method, params)
			}))
	}

	if b.maxInFlight > 0 {
		opts = append(opts, protocol.WithMaxInFlight(b.maxInFlight))
	}

	client := protocol.NewClient(b.log, handle, opts...)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start client for %q: %w", server, err)
	}

	if stale, ok := b.clients[server]; ok {
		stale.client.Stop()
	}

	b.clients[server] = &clientEntry{handle: handle, client: client}

	b.log.Debug("Created client", "server", server, "pid", handle.Pid())

	return client, nil
}
