// Package core provides the canonical types and error taxonomy for the
// gateway.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType classifies a gateway failure.
type ErrorType string

const (
	// ErrorTypeConfig indicates resolver or auth misconfiguration: no
	// upstream set, forbidden local address, missing credential, unknown
	// auth mode. Never retried; fix the configuration.
	ErrorTypeConfig ErrorType = "config_error"

	// ErrorTypeNetwork indicates a transport-level failure reaching the
	// upstream before a status code was obtainable.
	ErrorTypeNetwork ErrorType = "network_error"

	// ErrorTypeUpstream indicates the upstream responded with status >= 400.
	// The upstream status and body are mirrored to the client verbatim.
	ErrorTypeUpstream ErrorType = "upstream_error"

	// ErrorTypeTranslation indicates the upstream response did not match its
	// wire contract (e.g. empty predictions).
	ErrorTypeTranslation ErrorType = "translation_error"

	// ErrorTypeInvalidRequest indicates the client request could not be
	// parsed or is missing required fields.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// GatewayError is the error type for all gateway failures. Every error is
// request-scoped; there is no process-fatal error path.
type GatewayError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	// UpstreamStatus and UpstreamBody are set only for ErrorTypeUpstream and
	// are mirrored to the client without translation.
	UpstreamStatus int    `json:"-"`
	UpstreamBody   []byte `json:"-"`

	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the response status for this error.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeConfig:
		return http.StatusServiceUnavailable
	case ErrorTypeNetwork, ErrorTypeTranslation:
		return http.StatusBadGateway
	case ErrorTypeUpstream:
		return e.UpstreamStatus
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the JSON error envelope sent to clients.
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewConfigError creates a configuration error (503).
func NewConfigError(message string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeConfig,
		Message: message,
	}
}

// NewNetworkError creates a transport error (502) wrapping the cause.
func NewNetworkError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeNetwork,
		Message: message,
		Err:     err,
	}
}

// NewUpstreamError creates an error mirroring an upstream >= 400 response.
func NewUpstreamError(status int, body []byte) *GatewayError {
	return &GatewayError{
		Type:           ErrorTypeUpstream,
		Message:        fmt.Sprintf("upstream returned status %d", status),
		UpstreamStatus: status,
		UpstreamBody:   body,
	}
}

// NewInvalidRequestError creates a client-request error (400).
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeInvalidRequest,
		Message: message,
		Err:     err,
	}
}

// NewTranslationError creates an upstream-contract error (502).
func NewTranslationError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeTranslation,
		Message: message,
		Err:     err,
	}
}
