// Package wireformat defines the JSON wire format structures exchanged
// between the host and WebAssembly components. These types are the ABI
// contract with compiled components and must remain stable and backward
// compatible.
//
// Calling convention: every payload crosses the guest boundary as a JSON
// document in linear memory, addressed by a packed uint64 whose high 32
// bits are the pointer and low 32 bits the length. Components export
// allocate(size) and deallocate(ptr, len) so the host can place request
// payloads, and the host deallocates result payloads after reading them.
package wireformat

import (
	"fmt"
	"time"
)

// ContextWireFormat carries context.Context semantics across the boundary.
type ContextWireFormat struct {
	Deadline  *time.Time `json:"deadline,omitempty"`
	TimeoutMs int64      `json:"timeout_ms,omitempty"`
	RequestID string     `json:"request_id,omitempty"` // For log correlation
	Cancelled bool       `json:"cancelled,omitempty"`  // True if context is already cancelled
}

// CallResultWire is what a component's exported tool function returns to
// the host: either a result value or a structured error, never both.
type CallResultWire struct {
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// HTTPRequestWire is a guest-to-host HTTP egress request.
type HTTPRequestWire struct {
	Context ContextWireFormat   `json:"context"`
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body,omitempty"` // Base64 encoded
}

// HTTPResponseWire is the host's reply to an HTTPRequestWire.
type HTTPResponseWire struct {
	StatusCode    int                 `json:"status_code"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          string              `json:"body,omitempty"` // Base64 encoded
	BodyTruncated bool                `json:"body_truncated,omitempty"`
	Error         *ErrorDetail        `json:"error,omitempty"`
}

// FSRequestWire is a guest-to-host filesystem request.
type FSRequestWire struct {
	Context ContextWireFormat `json:"context"`
	Op      string            `json:"op"` // "read" or "write"
	Path    string            `json:"path"`
	Data    string            `json:"data,omitempty"` // Base64 encoded, write only
}

// FSResponseWire is the host's reply to an FSRequestWire.
type FSResponseWire struct {
	Data      string       `json:"data,omitempty"` // Base64 encoded, read only
	Size      int64        `json:"size,omitempty"`
	Truncated bool         `json:"truncated,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// EnvRequestWire is a guest-to-host environment variable read.
type EnvRequestWire struct {
	Context ContextWireFormat `json:"context"`
	Name    string            `json:"name"`
}

// EnvResponseWire is the host's reply to an EnvRequestWire.
type EnvResponseWire struct {
	Value   string       `json:"value,omitempty"`
	Present bool         `json:"present"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// LogWire is a guest-to-host log line. Logging needs no capability.
type LogWire struct {
	Level   string         `json:"level"` // "debug", "info", "warn", "error"
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// ErrorDetail provides structured error information, consistent across
// host functions and component results.
// Error Types: "network", "timeout", "config", "panic", "capability",
// "validation", "internal".
type ErrorDetail struct {
	Message string       `json:"message"`
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"` // "ECONNREFUSED", "ETIMEDOUT", etc.
	Wrapped *ErrorDetail `json:"wrapped,omitempty"`
}

// Error implements the error interface for ErrorDetail.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped.Error())
	}
	return msg
}
