package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mludvig/mcp-http-bridge/internal/errors"
)

// maxLoggedLine caps how much of a bad line ends up in the log.
const maxLoggedLine = 256

// Transport is the minimal surface the client needs from a process handle.
//
// It is satisfied by *process.Handle but allows testing with mock transports.
// The client uses the transport without owning it: it never terminates the
// underlying process.
type Transport interface {
	IsRunning() bool
	WriteLine(ctx context.Context, data []byte) error
	ReadLine() ([]byte, error)
}

// Client presents per-request futures over one child's line-oriented
// JSON-RPC stream.
//
// Requests from concurrent callers are written to stdin in submission order;
// responses are matched purely by id and may arrive in any order. One
// long-lived listener goroutine per client reads and routes every incoming
// line. Clients are single-use: after Stop, create a new one.
type Client struct {
	log       *slog.Logger
	transport Transport

	// nextID assigns wire ids. Strictly increasing, never reused within
	// this client instance.
	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest

	maxInFlight    int
	onNotification NotificationHandler

	// Fatal error handling: stores the error and broadcasts via done so
	// every outstanding caller fails with the same cause.
	errMu    sync.RWMutex
	fatalErr error

	startMu   sync.Mutex
	started   bool
	closeOnce sync.Once
	done      chan struct{}
}

// pendingRequest tracks one outgoing request awaiting its response.
type pendingRequest struct {
	method      string
	submittedAt time.Time
	response    chan *envelope
}

// Option configures a Client.
type Option func(*Client)

// WithNotificationHandler routes incoming id-less messages to fn.
func WithNotificationHandler(fn NotificationHandler) Option {
	return func(c *Client) {
		c.onNotification = fn
	}
}

// WithMaxInFlight bounds the number of unresolved requests; further sends
// fail with ErrTooManyInFlight until responses drain. Zero means unbounded.
func WithMaxInFlight(n int) Option {
	return func(c *Client) {
		c.maxInFlight = n
	}
}

// NewClient creates a client over the given transport. The client does not
// own the transport's process; only the registry terminates processes.
func NewClient(log *slog.Logger, transport Transport, opts ...Option) *Client {
	c := &Client{
		log:       log.With("component", "rpc_client", "client_id", ulid.Make().String()),
		transport: transport,
		pending:   make(map[int64]*pendingRequest, 10),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins the background response listener. Returns ErrNotRunning if
// the underlying process is not running. Calling Start again is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.started {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if !c.transport.IsRunning() {
		return errors.ErrNotRunning
	}

	c.started = true

	// The listener outlives ctx on purpose: it serves every future caller of
	// this client and ends only on Stop or when the stream dies.
	go c.readLoop()

	c.log.Debug("Response listener started")

	return nil
}

// SendRequest sends one request and blocks until its response arrives, the
// timeout elapses, ctx is cancelled, or the client stops.
//
// A nil params is sent as an empty object. The pending entry is registered
// before the frame is written, closing the race against an unexpectedly fast
// response. After a timeout the id is discarded: a late response for it is
// dropped, never delivered. A remote-reported error resolves the request
// with *RPCError. When the stream dies, every outstanding request fails with
// the same connection error.
func (c *Client) SendRequest(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, c.exitErr()
	default:
	}

	if params == nil {
		params = struct{}{}
	}

	id := c.nextID.Add(1)

	pending := &pendingRequest{
		method:      method,
		submittedAt: time.Now(),
		response:    make(chan *envelope, 1),
	}

	c.pendingMu.Lock()

	if c.maxInFlight > 0 && len(c.pending) >= c.maxInFlight {
		c.pendingMu.Unlock()

		return nil, fmt.Errorf("%w (max %d)", errors.ErrTooManyInFlight, c.maxInFlight)
	}

	c.pending[id] = pending
	c.pendingMu.Unlock()

	data, err := json.Marshal(&request{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		c.removePending(id)

		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.log.Debug("Sending request", "id", id, "method", method)

	if err := c.transport.WriteLine(ctx, data); err != nil {
		c.removePending(id)

		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-pending.response:
		if resp.Error != nil {
			c.log.Debug("Request resolved with remote error",
				"id", id, "code", resp.Error.Code)

			return nil, &errors.RPCError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}

		result := resp.Result
		if len(result) == 0 {
			result = json.RawMessage(`{}`)
		}

		c.log.Debug("Request resolved", "id", id, "method", method,
			"elapsed", time.Since(pending.submittedAt))

		return result, nil

	case <-time.After(timeout):
		c.removePending(id)
		c.log.Warn("Request timed out", "id", id, "method", method, "timeout", timeout)

		return nil, fmt.Errorf("%w after %s: %s", errors.ErrRequestTimeout, timeout, method)

	case <-c.done:
		c.removePending(id)
		c.log.Debug("Client stopped during request", "id", id)

		return nil, c.exitErr()

	case <-ctx.Done():
		c.removePending(id)

		return nil, ctx.Err()
	}
}

// SendNotification writes a fire-and-forget message (no id, no response).
func (c *Client) SendNotification(ctx context.Context, method string, params any) error {
	select {
	case <-c.done:
		return c.exitErr()
	default:
	}

	if params == nil {
		params = struct{}{}
	}

	data, err := json.Marshal(&request{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	c.log.Debug("Sending notification", "method", method)

	return c.transport.WriteLine(ctx, data)
}

// Stop cancels the listener and resolves every outstanding request as
// cancelled. Safe to call from any goroutine and idempotent.
//
// The listener goroutine itself exits once its blocking read returns, which
// the registry's process stop guarantees; Stop does not wait for it because
// the client must never terminate the process on its own.
func (c *Client) Stop() {
	c.closeDone()

	c.pendingMu.Lock()

	dropped := len(c.pending)
	for id := range c.pending {
		delete(c.pending, id)
	}

	c.pendingMu.Unlock()

	if dropped > 0 {
		c.log.Debug("Cancelled outstanding requests", "count", dropped)
	}

	c.log.Debug("Client stopped")
}

// Done returns a channel closed when the client stops or the stream dies.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// FatalError returns the stream error that stopped the client, if any.
func (c *Client) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// InFlight returns the number of unresolved requests.
func (c *Client) InFlight() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	return len(c.pending)
}

// readLoop is the one long-lived task per client: it reads one line at a
// time and routes it until stop or EOF.
func (c *Client) readLoop() {
	defer c.log.Debug("Response listener stopped")

	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			select {
			case <-c.done:
				// Already stopping; the read unblocked as a side effect.
			default:
				if err == io.EOF {
					err = errors.ErrConnectionClosed
				}

				c.log.Warn("Stream ended, failing outstanding requests", "error", err)
				c.setFatalError(err)
			}

			c.closeDone()

			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		c.handleLine(line)
	}
}

// handleLine routes one incoming frame: response, notification, or garbage.
func (c *Client) handleLine(line []byte) {
	var env envelope

	if err := json.Unmarshal(line, &env); err != nil {
		// A corrupt or partial line must not take the bridge down.
		c.log.Warn("Discarding unparsable line", "error", err, "line", truncateLine(line))

		return
	}

	if env.ID == nil {
		c.log.Debug("Received notification", "method", env.Method)

		if c.onNotification != nil {
			c.onNotification(env.Method, env.Params)
		}

		return
	}

	id := *env.ID

	// Find and claim the pending request atomically: only one response may
	// resolve a given id.
	c.pendingMu.Lock()

	pending, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}

	c.pendingMu.Unlock()

	if !exists {
		// Covers late responses after timeout and unsolicited ids alike.
		c.log.Warn("Dropping response with no pending request", "id", id)

		return
	}

	// We own the entry now; the channel is buffered so this never blocks.
	pending.response <- &env
}

// exitErr picks the error outstanding callers see after done closes.
func (c *Client) exitErr() error {
	if err := c.FatalError(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrClientStopped, err)
	}

	return errors.ErrClientStopped
}

func (c *Client) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) setFatalError(err error) {
	c.errMu.Lock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}

	c.errMu.Unlock()
}

func (c *Client) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func truncateLine(line []byte) string {
	if len(line) <= maxLoggedLine {
		return string(line)
	}

	return string(line[:maxLoggedLine]) + "..."
}
