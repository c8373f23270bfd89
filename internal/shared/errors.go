package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Handlers return the exact message inside the request error to the caller;
// anything that is not a RequestError is reported as a generic 500.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

// Admission errors
var (
	ErrModelMissing   = &RequestError{Err: errors.New("model missing"), StatusCode: 400}
	ErrNoNodeForModel = &RequestError{Err: errors.New("no node with model"), StatusCode: 404}
)

var (
	ErrMissingToken        = &RequestError{Err: errors.New("missing provider token"), StatusCode: 401}
	ErrInvalidFormat       = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
	ErrBadRequest          = &RequestError{Err: errors.New("bad request"), StatusCode: 400}
)

var (
	ErrNodeNotConnected = errors.New("node not connected")
	ErrConnClosed       = errors.New("connection closed")
	ErrUnknownMessage   = errors.New("unknown message type")
)

var (
	ErrDispatchFailed    = &MetricsError{Msg: "failed to dispatch request to node", Code: "dispatch_err"}
	ErrStreamRelayDrop   = &MetricsError{Msg: "chunk for unknown or closed request", Code: "relay_drop"}
	ErrUpstreamUnhealthy = &MetricsError{Msg: "hub failed health probe", Code: "upstream_unavailable"}
	ErrRegistryFetch     = &MetricsError{Msg: "failed to fetch hub list from registry", Code: "registry_err"}
	ErrFailedLocalReq    = &MetricsError{Msg: "failed to send http request to local model server", Code: "local_http_err"}
	ErrFailedLocalStatus = &MetricsError{Msg: "local model server responded with non-2xx", Code: "local_http_status_err"}
	ErrFailedReadingBody = &MetricsError{Msg: "failed to read local model response", Code: "local_response_err"}
	ErrInvalidAggregate  = &MetricsError{Msg: "aggregated response is not valid json", Code: "aggregate_json_err"}
)

// MetricsError carries a stable code used as a metrics label.
type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}

// OpenAIError is the structured error body returned to HTTP callers.
type OpenAIError struct {
	Message string `json:"message"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func NewOpenAIError(status int, errType string, msg string) OpenAIError {
	return OpenAIError{Message: msg, Object: "error", Type: errType, Code: status}
}
