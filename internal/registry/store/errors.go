package store

import (
	"errors"
	"fmt"
)

// Validation codes carried by ValidationError.
const (
	CodeInvalidArgument    = "invalid_argument"
	CodeUnknownParticipant = "unknown_participant"
	CodeEmptyParticipants  = "empty_participants"
	CodeInvalidCursor      = "invalid_cursor"
)

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
	// Code narrows the failure; empty means CodeInvalidArgument.
	Code string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ErrorCode returns the code, defaulting to CodeInvalidArgument.
func (e *ValidationError) ErrorCode() string {
	if e.Code == "" {
		return CodeInvalidArgument
	}
	return e.Code
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates insufficient access.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return "forbidden: " + e.Reason
	}
	return "forbidden"
}

// InvalidCursor builds the error returned for undecodable or unresolvable page tokens.
func InvalidCursor(message string) *ValidationError {
	return &ValidationError{Field: "page_token", Message: message, Code: CodeInvalidCursor}
}

// UnknownParticipant builds the error returned when participant ids do not resolve to users.
func UnknownParticipant(ids []string) *ValidationError {
	return &ValidationError{
		Field:   "participants",
		Message: fmt.Sprintf("unknown participant ids: %v", ids),
		Code:    CodeUnknownParticipant,
	}
}

// EmptyParticipants builds the error returned when a conversation would have no members.
func EmptyParticipants() *ValidationError {
	return &ValidationError{Field: "participants", Message: "at least one participant is required", Code: CodeEmptyParticipants}
}

// HasCode reports whether err is a ValidationError with the given code.
func HasCode(err error, code string) bool {
	var v *ValidationError
	return errors.As(err, &v) && v.ErrorCode() == code
}
