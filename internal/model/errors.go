package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes reported in SendResult.ErrorCode
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeUnsupportedJurisdiction = "UNSUPPORTED_JURISDICTION"
	ErrCodeTransport               = "TRANSPORT_ERROR"
	ErrCodeBusinessRejection       = "BUSINESS_REJECTION"
	ErrCodeAlreadySent             = "ALREADY_SENT"
	ErrCodeAlreadyRejected         = "ALREADY_REJECTED"
	ErrCodeHashMismatch            = "HASH_MISMATCH"
	ErrCodeInvalidState            = "INVALID_STATE"
	ErrCodeGeneration              = "GENERATION_ERROR"
	ErrCodeCancelled               = "CANCELLED"
	ErrCodeParse                   = "PARSE_ERROR"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// Sentinel errors, matched with errors.Is
var (
	ErrUnsupportedJurisdiction = errors.New("unsupported jurisdiction")
	ErrIllegalTransition       = errors.New("illegal status transition")
	ErrNotFound                = errors.New("not found")
)

// NoLine marks a validation error that is not tied to an invoice line
const NoLine = -1

// ValidationError represents one rule violation on an invoice
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
	Line    int // 0-based line index, NoLine for header fields
}

func (e *ValidationError) Error() string {
	prefix := ""
	if e.Line != NoLine {
		prefix = fmt.Sprintf("line %d: ", e.Line)
	}
	if e.Value != nil {
		return fmt.Sprintf("%svalidation failed on %s: %s (value=%v, rule=%s)", prefix, e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("%svalidation failed on %s: %s (rule=%s)", prefix, e.Field, e.Message, e.Rule)
}

// NewValidationError creates a header-level validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
		Line:    NoLine,
	}
}

// NewLineValidationError creates a validation error for the line at index
func NewLineValidationError(line int, field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   fmt.Sprintf("lines[%d].%s", line, field),
		Value:   value,
		Rule:    rule,
		Message: message,
		Line:    line,
	}
}

// ValidationErrors is an exhaustive list of violations
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// UnsupportedJurisdictionError is returned for country codes without fiscal data or strategy
type UnsupportedJurisdictionError struct {
	Country string
}

func (e *UnsupportedJurisdictionError) Error() string {
	return fmt.Sprintf("unsupported jurisdiction: %q", e.Country)
}

func (e *UnsupportedJurisdictionError) Unwrap() error {
	return ErrUnsupportedJurisdiction
}

// NewUnsupportedJurisdictionError creates a new unsupported jurisdiction error
func NewUnsupportedJurisdictionError(country string) *UnsupportedJurisdictionError {
	return &UnsupportedJurisdictionError{Country: country}
}

// TransportCategory classifies channel failures
type TransportCategory string

const (
	TransportTimeout       TransportCategory = "timeout"
	TransportNetwork       TransportCategory = "network"
	TransportAuth          TransportCategory = "authentication"
	TransportRateLimited   TransportCategory = "rate_limited"
	TransportUnavailable   TransportCategory = "unavailable"
	TransportBadResponse   TransportCategory = "bad_response"
	TransportMisconfigured TransportCategory = "misconfigured"
)

// TransportError wraps failures talking to a jurisdiction channel
type TransportError struct {
	Channel    string
	Category   TransportCategory
	Message    string
	StatusCode int
	Cause      error
	Retryable  bool
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel %s [%s]: %s: %v", e.Channel, e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("channel %s [%s]: %s", e.Channel, e.Category, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a transport error with retry classification.
// Timeouts, network, authentication, rate limiting and outages are retryable;
// malformed responses and misconfiguration are not.
func NewTransportError(category TransportCategory, channel, message string, cause error) *TransportError {
	retryable := category == TransportTimeout ||
		category == TransportNetwork ||
		category == TransportAuth ||
		category == TransportRateLimited ||
		category == TransportUnavailable

	return &TransportError{
		Channel:   channel,
		Category:  category,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// BusinessRejection is a terminal refusal by the jurisdiction authority
type BusinessRejection struct {
	Channel string
	Code    string
	Message string
}

func (e *BusinessRejection) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected by %s [%s]: %s", e.Channel, e.Code, e.Message)
	}
	return fmt.Sprintf("rejected by %s: %s", e.Channel, e.Message)
}

// NewBusinessRejection creates a new business rejection
func NewBusinessRejection(channel, code, message string) *BusinessRejection {
	return &BusinessRejection{
		Channel: channel,
		Code:    code,
		Message: message,
	}
}

// StateError reports an illegal lifecycle transition
type StateError struct {
	From Status
	To   Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *StateError) Unwrap() error {
	return ErrIllegalTransition
}

// ParseError represents failures reading an inbound document
type ParseError struct {
	Format  string
	Field   string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Format, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Format, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(format, field, message string, cause error) *ParseError {
	return &ParseError{
		Format:  format,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode maps an error to the code reported across the engine boundary
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var (
		ve  *ValidationError
		ves ValidationErrors
		uj  *UnsupportedJurisdictionError
		te  *TransportError
		br  *BusinessRejection
		se  *StateError
		pe  *ParseError
	)

	switch {
	case errors.As(err, &ves), errors.As(err, &ve):
		return ErrCodeValidation
	case errors.As(err, &uj), errors.Is(err, ErrUnsupportedJurisdiction):
		return ErrCodeUnsupportedJurisdiction
	case errors.As(err, &br):
		return ErrCodeBusinessRejection
	case errors.As(err, &te):
		return ErrCodeTransport
	case errors.As(err, &se):
		return ErrCodeInvalidState
	case errors.As(err, &pe):
		return ErrCodeParse
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTransport
	}
	return ErrCodeInternal
}
