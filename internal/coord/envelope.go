package coord

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Envelope is the response shape every coordination tool returns.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// successResult wraps data in a success envelope as a tool text result.
func successResult(message string, data any) *mcp.CallToolResult {
	return envelopeResult(Envelope{Status: statusSuccess, Message: message, Data: data})
}

// errorResult wraps a failure in an error envelope as a tool text result.
func errorResult(message string, data any) *mcp.CallToolResult {
	return envelopeResult(Envelope{Status: statusError, Message: message, Data: data})
}

func envelopeResult(env Envelope) *mcp.CallToolResult {
	payload, err := json.Marshal(env)
	if err != nil {
		// Envelope data is always built from plain records; reaching this
		// means a handler passed something unmarshalable.
		payload = []byte(`{"status":"error","message":"internal: marshal response"}`)
	}
	return mcp.NewToolResultText(string(payload))
}
