// Package llmerrors classifies failures returned by model backends.
//
// Classification is informational only: the agent loop reports every backend
// failure to the caller and never retries.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the category of a backend failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents 5xx, EOF, connection reset and timeouts.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents 401/403 and bad API keys.
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed or oversized requests.
	ErrorTypeBadPrompt
	// ErrorTypeCanceled represents caller cancellation or deadline expiry.
	ErrorTypeCanceled
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeCanceled:
		return "canceled"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified backend error.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Provider   string    // Backend that produced the error
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

func (e *Error) Error() string {
	prefix := "LLM error"
	if e.Provider != "" {
		prefix = e.Provider + " error"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s): %s", prefix, e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", prefix, e.Type, e.Err)
	}
	return fmt.Sprintf("%s (%s): status %d", prefix, e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeCanceled
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a new classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a new classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// TypeForStatus maps an HTTP status code to an ErrorType.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusRequestTimeout:
		return ErrorTypeTransient
	case status >= 500:
		return ErrorTypeTransient
	case status >= 400:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}

// Classify wraps err for provider, using status when known (>0) and
// falling back to message inspection for transport errors.
func Classify(provider string, err error, status int) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	errType := ErrorTypeUnknown
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		errType = ErrorTypeCanceled
	case status > 0:
		errType = TypeForStatus(status)
	default:
		errType = typeFromMessage(err.Error())
	}

	return &Error{
		Err:        err,
		Message:    err.Error(),
		Provider:   provider,
		Type:       errType,
		StatusCode: status,
	}
}

func typeFromMessage(msg string) ErrorType {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit") || strings.Contains(m, "quota") || strings.Contains(m, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(m, "unauthorized") || strings.Contains(m, "api key") ||
		strings.Contains(m, "401") || strings.Contains(m, "403"):
		return ErrorTypeAuth
	case strings.Contains(m, "connection refused") || strings.Contains(m, "connection reset") ||
		strings.Contains(m, "timeout") || strings.Contains(m, "eof") ||
		strings.Contains(m, "no such host") || strings.Contains(m, "unavailable"):
		return ErrorTypeTransient
	case strings.Contains(m, "model") && strings.Contains(m, "not found"):
		return ErrorTypeBadPrompt
	case strings.Contains(m, "context length") || strings.Contains(m, "too long") || strings.Contains(m, "invalid"):
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}

// SanitizePrompt shortens a prompt for logging: first/last portions plus a hash.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s",
		prompt[:halfMax], len(prompt), hash[:8], prompt[len(prompt)-halfMax:])
}
