package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// New constructs an APIError with the given status, type/code and message.
func New(status int, typ, code, message string) *APIError {
	return &APIError{HTTPStatus: status, Type: typ, Code: code, Message: message}
}

// Newf formats the message.
func Newf(status int, typ, code, format string, args ...interface{}) *APIError {
	return New(status, typ, code, fmt.Sprintf(format, args...))
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.HTTPStatus, e.Message)
}

// ToJSON serializes the error in the OpenAI envelope.
func (e *APIError) ToJSON() ([]byte, error) {
	var out OpenAIError
	out.Error.Message = e.Message
	out.Error.Type = e.Type
	out.Error.Code = e.Code
	out.Error.Details = e.Details
	return json.Marshal(out)
}

// FromUpstreamStatus maps an upstream HTTP status to a client-facing APIError.
func FromUpstreamStatus(status int, message string) *APIError {
	switch {
	case status == http.StatusTooManyRequests:
		return New(http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(http.StatusBadGateway, "upstream_auth_error", "upstream_auth_error", message)
	default:
		return New(http.StatusBadGateway, "upstream_error", "upstream_error", message)
	}
}
