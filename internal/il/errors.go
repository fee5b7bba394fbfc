package il

import (
	"errors"
	"fmt"
)

// DecodingError reports a structural-invariant violation. It aborts the
// decompilation of one method and is rendered as a diagnostic placeholder;
// sibling methods are unaffected.
type DecodingError struct {
	// Code identifies the error category.
	Code DecodingErrorCode

	// Method is the full name of the affected method, if known.
	Method string

	// Offset is the bytecode offset involved, or -1.
	Offset int

	// Message is a human-readable description.
	Message string
}

// DecodingErrorCode categorizes decoding failures.
type DecodingErrorCode string

const (
	// ErrCodeStackMismatch indicates two paths reach a join with different stack depths.
	ErrCodeStackMismatch DecodingErrorCode = "STACK_MISMATCH"

	// ErrCodeStackUnderflow indicates an instruction pops more values than the stack holds.
	ErrCodeStackUnderflow DecodingErrorCode = "STACK_UNDERFLOW"

	// ErrCodeUndefinedLabel indicates a branch whose target does not exist.
	ErrCodeUndefinedLabel DecodingErrorCode = "UNDEFINED_LABEL"

	// ErrCodeUnreferencedLabel indicates a label no branch refers to.
	ErrCodeUnreferencedLabel DecodingErrorCode = "UNREFERENCED_LABEL"

	// ErrCodeBadHandlerNesting indicates overlapping, non-nested handler ranges.
	ErrCodeBadHandlerNesting DecodingErrorCode = "BAD_HANDLER_NESTING"

	// ErrCodeBadOperand indicates an operand that does not fit its opcode.
	ErrCodeBadOperand DecodingErrorCode = "BAD_OPERAND"

	// ErrCodePassFailed indicates an optimization pass found a violated assumption.
	ErrCodePassFailed DecodingErrorCode = "PASS_FAILED"
)

// Error implements the error interface.
func (e *DecodingError) Error() string {
	switch {
	case e.Method != "" && e.Offset >= 0:
		return fmt.Sprintf("%s: %s (method=%s, offset=IL_%04x)", e.Code, e.Message, e.Method, e.Offset)
	case e.Method != "":
		return fmt.Sprintf("%s: %s (method=%s)", e.Code, e.Message, e.Method)
	case e.Offset >= 0:
		return fmt.Sprintf("%s: %s (offset=IL_%04x)", e.Code, e.Message, e.Offset)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDecodingError creates a DecodingError without method context.
func NewDecodingError(code DecodingErrorCode, offset int, format string, args ...any) *DecodingError {
	return &DecodingError{
		Code:    code,
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsDecodingError reports whether err is or wraps a DecodingError.
func IsDecodingError(err error) bool {
	var de *DecodingError
	return errors.As(err, &de)
}

// DecodingErrorCodeOf returns the code of a wrapped DecodingError, or "".
func DecodingErrorCodeOf(err error) DecodingErrorCode {
	var de *DecodingError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
