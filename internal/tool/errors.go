package tool

import (
	"errors"
	"strings"
)

// ErrorCode is a stable, machine-readable failure code.
type ErrorCode string

const (
	ErrorCodeUnknownTool    ErrorCode = "UNKNOWN_TOOL"
	ErrorCodeDuplicateTool  ErrorCode = "DUPLICATE_TOOL"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeCanceled       ErrorCode = "CANCELED"
	ErrorCodeExecutionError ErrorCode = "TOOL_EXECUTION_FAILED"

	ErrorCodePreconditionFailed  ErrorCode = "PRECONDITION_FAILED"
	ErrorCodeVerificationFailed  ErrorCode = "VERIFICATION_FAILED"
	ErrorCodeRollbackPartial     ErrorCode = "ROLLBACK_PARTIAL"
	ErrorCodeDecompositionFailed ErrorCode = "DECOMPOSITION_FAILED"

	ErrorCodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

var (
	// ErrUnknownTool indicates a lookup for a name that was never registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool indicates a second registration under an existing name.
	ErrDuplicateTool = errors.New("duplicate tool")
)

// Error carries structured tool failure metadata across the invoker boundary.
type Error struct {
	Code        ErrorCode `json:"code"`
	FailureMode string    `json:"failure_mode,omitempty"`
	Message     string    `json:"message"`
	ToolName    string    `json:"tool_name,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.FailureMode != "" {
		return string(e.Code) + " (" + e.FailureMode + "): " + e.Message
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Normalize() {
	if e == nil {
		return
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		e.Message = "tool failed"
	}
	if e.Code == "" {
		e.Code = ErrorCodeUnknown
	}
	e.FailureMode = strings.TrimSpace(e.FailureMode)
	e.ToolName = strings.TrimSpace(e.ToolName)
}

// classifyError maps a handler error onto the descriptor's declared failure
// modes. Exact mode names win over substring matches; anything unmatched
// falls back to UNKNOWN_ERROR so callers never see a raw handler error.
func classifyError(d *Descriptor, err error) *Error {
	if err == nil {
		return nil
	}
	out := &Error{
		Code:    ErrorCodeExecutionError,
		Message: strings.TrimSpace(err.Error()),
	}
	if d != nil {
		out.ToolName = d.Name
	}
	if out.Message == "" {
		out.Message = "tool failed"
	}
	if d == nil || len(d.FailureModes) == 0 {
		out.Code = ErrorCodeUnknown
		out.Normalize()
		return out
	}

	lower := strings.ToLower(out.Message)
	for _, fm := range d.FailureModes {
		name := strings.TrimSpace(fm.Name)
		if name == "" {
			continue
		}
		match := strings.ToLower(strings.TrimSpace(fm.Match))
		if match == "" {
			match = strings.ToLower(name)
		}
		if strings.Contains(lower, match) {
			out.FailureMode = name
			out.Normalize()
			return out
		}
	}
	out.Code = ErrorCodeUnknown
	out.Normalize()
	return out
}
