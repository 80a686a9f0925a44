package rpc

import "fmt"

// JSON-RPC 2.0 error codes used by the agent surface.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RequestError is a protocol-level error the client understands. Everything
// raised below the server boundary is converted into one of these before it
// reaches the wire.
type RequestError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// InvalidParams builds an invalid-params error with structured detail
func InvalidParams(data map[string]any) *RequestError {
	return &RequestError{Code: CodeInvalidParams, Message: "Invalid params", Data: data}
}

// InternalError builds an internal error with structured detail
func InternalError(data map[string]any) *RequestError {
	return &RequestError{Code: CodeInternalError, Message: "Internal error", Data: data}
}

// MethodNotFound builds a method-not-found error for the given method
func MethodNotFound(method string) *RequestError {
	return &RequestError{
		Code:    CodeMethodNotFound,
		Message: "Method not found",
		Data:    map[string]any{"method": method},
	}
}
