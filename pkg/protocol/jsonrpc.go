package protocol

import (
	"encoding/json"

	"github.com/cgast/jobproto/pkg/spec"
)

// JSON-RPC 2.0 message types for serve mode communication.

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"` // string or int; nil for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-specific error codes.
const (
	CodeHistoryDisabled   = -32001
	CodeRecordNotFound    = -32002
	CodeProtocolInvalid   = -32003
	CodeRenderFailed      = -32004
	CodeUnknownDeployment = -32005
)

// Method constants for all supported JSON-RPC methods.
const (
	MethodValidate = "protocol.validate"
	MethodCompile  = "protocol.compile"
	MethodSchema   = "protocol.schema"

	MethodHistoryList = "history.list"
	MethodHistoryGet  = "history.get"
)

// NewResponse creates a successful response.
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Parameter types for the supported methods.

// DocumentParams carries a protocol document either as a JSON object
// ("document") or as YAML/JSON text ("source").
type DocumentParams struct {
	Document json.RawMessage `json:"document,omitempty"`
	Source   string          `json:"source,omitempty"`
}

// ValidateParams holds parameters for "protocol.validate".
type ValidateParams struct {
	DocumentParams
}

// CompileParams holds parameters for "protocol.compile".
type CompileParams struct {
	DocumentParams
	Parameters map[string]any `json:"parameters,omitempty"`
	Deployment string         `json:"deployment,omitempty"`
}

// HistoryListParams holds parameters for "history.list".
type HistoryListParams struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryGetParams holds parameters for "history.get".
type HistoryGetParams struct {
	ID string `json:"id"`
}

// ValidateResult is the result of "protocol.validate".
type ValidateResult struct {
	Valid  bool                   `json:"valid"`
	Errors []spec.ValidationError `json:"errors,omitempty"`
}

// CompileResult is the result of "protocol.compile".
type CompileResult struct {
	ID         string         `json:"id,omitempty"` // history record, when stored
	Name       string         `json:"name"`
	Stage      string         `json:"stage"`
	Deployment string         `json:"deployment,omitempty"`
	Descriptor map[string]any `json:"descriptor"`
}
