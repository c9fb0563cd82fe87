package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EIP-1193 / EIP-1474 error codes used on the page side.
const (
	CodeUserRejected  = 4001
	CodeUnauthorized  = 4100
	CodeUnsupported   = 4200
	CodeDisconnected  = 4900
	CodeInvalidParams = -32602
	CodeInternal      = -32603
	CodeLimitExceeded = -32005
	CodeParseError    = -32700
	CodeInvalidReq    = -32600
)

// ProviderError is the error shape a wallet returns to the calling page.
type ProviderError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	kind error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Is matches sentinels by kind, so a relay failure is also a user rejection.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	if e == t {
		return true
	}
	if t.kind == nil {
		return false
	}
	return e.kind == t.kind || errors.Is(e.kind, t.kind)
}

var (
	errKindRejected = errors.New("user rejected")
	errKindTimeout  = errors.New("approval timeout")
	errKindLimited  = errors.New("rate limited")
)

// Page-facing sentinels.
var (
	ErrUserRejected = &ProviderError{
		Code:    CodeUserRejected,
		Message: "User rejected the request.",
		kind:    errKindRejected,
	}
	ErrRelayUnavailable = &ProviderError{
		Code:    CodeUserRejected,
		Message: "User rejected the request: approval relay unavailable.",
		kind:    fmt.Errorf("relay unavailable: %w", errKindRejected),
	}
	ErrApprovalTimeout = &ProviderError{
		Code:    CodeInternal,
		Message: "Approval timed out.",
		kind:    errKindTimeout,
	}
	ErrRateLimited = &ProviderError{
		Code:    CodeLimitExceeded,
		Message: "Too many pending approval requests from this origin.",
		kind:    errKindLimited,
	}
)

// Coordinator and collaborator sentinels.
var (
	ErrNotFound            = errors.New("call not found")
	ErrDuplicateID         = errors.New("duplicate call id")
	ErrAnalysisUnavailable = errors.New("risk analysis unavailable")
)

// AsProviderError converts any error into a ProviderError for the page.
// Non-provider errors become internal errors; nothing escapes as a raw fault.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Code: CodeInternal, Message: err.Error()}
}
