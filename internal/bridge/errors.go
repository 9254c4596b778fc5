package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/toolhost-dev/toolhost/internal/dispatch"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// errorResult folds a dispatch failure into a structured MCP error
// payload. Internal fault detail (trap messages, stack text) never
// crosses the protocol boundary.
func errorResult(err error) *mcp.CallToolResult {
	detail := wireformat.ErrorDetail{Type: "internal", Message: "tool call failed"}

	var notFound *dispatch.NotFoundError
	var mismatch *dispatch.TypeMismatchError
	var timeout *dispatch.TimeoutError
	var denied *dispatch.CapabilityDeniedError
	var fault *dispatch.ComponentFaultError

	switch {
	case errors.As(err, &notFound):
		detail = wireformat.ErrorDetail{Type: "not_found", Message: notFound.Error()}
	case errors.As(err, &mismatch):
		detail = wireformat.ErrorDetail{Type: "validation", Message: mismatch.Error(), Code: mismatch.Path}
	case errors.As(err, &timeout):
		detail = wireformat.ErrorDetail{Type: "timeout", Message: timeout.Error()}
	case errors.As(err, &denied):
		detail = wireformat.ErrorDetail{Type: "capability", Message: denied.Error(), Code: denied.Kind}
	case errors.As(err, &fault):
		if fault.Detail != nil {
			detail = wireformat.ErrorDetail{
				Type:    "component_fault",
				Message: fault.Detail.Message,
				Code:    fault.Detail.Code,
			}
		} else {
			detail = wireformat.ErrorDetail{Type: "component_fault", Message: "component call failed"}
		}
	case errors.Is(err, context.Canceled):
		detail = wireformat.ErrorDetail{Type: "cancelled", Message: "call cancelled by client"}
	}

	payload, marshalErr := json.Marshal(map[string]any{"error": detail})
	if marshalErr != nil {
		return mcp.NewToolResultError(detail.Message)
	}
	return mcp.NewToolResultError(string(payload))
}
