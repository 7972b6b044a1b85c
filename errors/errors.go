package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNetworkUnavailable   = fmt.Errorf("network unavailable")
	ErrAuthenticationFailed = fmt.Errorf("authentication failed")
	ErrSessionExpired       = fmt.Errorf("session expired")
	ErrInvalidRoom          = fmt.Errorf("invalid room")
	ErrRateLimited          = fmt.Errorf("rate limited")
	ErrTargetNotFound       = fmt.Errorf("target not found")
	ErrTargetOffline        = fmt.Errorf("target offline")
	ErrNotConnected         = fmt.Errorf("not connected")
	ErrConnectionSuperseded = fmt.Errorf("connection attempt superseded")
	ErrInvalidCredentials   = fmt.Errorf("invalid credentials")
	ErrInvalidRequest       = fmt.Errorf("invalid request")
	ErrNotAuthenticated     = fmt.Errorf("not authenticated")
	ErrUnknownServerError   = fmt.Errorf("server error")
	ErrUnknownEvent         = fmt.Errorf("unknown event")
	ErrMalformedEvent       = fmt.Errorf("malformed event")
)

// Machine-readable codes carried by transport error events.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeInvalidRoom          = "INVALID_ROOM"
	CodeRateLimit            = "RATE_LIMIT"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeUserOffline          = "USER_OFFLINE"
)

var codeToSentinel = map[string]error{
	CodeAuthenticationFailed: ErrAuthenticationFailed,
	CodeInvalidRoom:          ErrInvalidRoom,
	CodeRateLimit:            ErrRateLimited,
	CodeUserNotFound:         ErrTargetNotFound,
	CodeUserOffline:          ErrTargetOffline,
}

// ServerError is an error reported by the server over the transport.
// It unwraps to the sentinel matching its code, so callers can write
// errors.Is(err, ErrTargetOffline).
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server: %s", e.Message)
	}
	return fmt.Sprintf("server: %s: %s", e.Code, e.Message)
}

func (e *ServerError) Unwrap() error {
	if sentinel, ok := codeToSentinel[e.Code]; ok {
		return sentinel
	}
	return ErrUnknownServerError
}

// IsDeliveryError reports whether err only concerns a single message and
// leaves the session usable.
func IsDeliveryError(err error) bool {
	return errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrTargetOffline) ||
		errors.Is(err, ErrInvalidRoom) ||
		errors.Is(err, ErrRateLimited)
}

// APIError is the JSON error body returned by the auth REST endpoints.
type APIError struct {
	Message    string `json:"message"`
	Kind       string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// Is and As forward to the standard library so callers importing this
// package do not need a second errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
