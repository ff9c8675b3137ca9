package protocol

import "encoding/json"

// jsonRPCVersion is the only protocol version the bridge speaks.
const jsonRPCVersion = "2.0"

// request is the outgoing envelope: {"jsonrpc":"2.0","id":N,"method":...,"params":...}.
// Notifications omit the id.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// envelope is the incoming frame, covering responses and notifications.
// A nil ID marks a notification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *responseError  `json:"error"`
}

// responseError is the wire shape of a remote-reported error.
type responseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NotificationHandler observes incoming notifications. Called from the
// response listener; implementations should return quickly or hand off.
type NotificationHandler func(method string, params json.RawMessage)
