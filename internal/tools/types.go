package tools

// Status indicates whether a tool call succeeded.
type Status string

// Tool result statuses.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorCode classifies tool failures so the model can distinguish bad
// arguments from transient execution problems.
type ErrorCode string

// Tool error codes.
const (
	ErrCodeValidation ErrorCode = "ValidationError"
	ErrCodeExecution  ErrorCode = "ExecutionError"
	ErrCodeNotFound   ErrorCode = "NotFound"
)

// Error is a structured tool failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// Result is the uniform shape every tool returns. A handler reports failures
// through Status/Error rather than a Go error, so the model receives them as
// data it can react to instead of aborting the turn.
type Result struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// success builds a success Result.
func success(data any) Result {
	return Result{Status: StatusSuccess, Data: data}
}

// validationError builds an error Result for rejected arguments.
func validationError(message string) Result {
	return Result{
		Status: StatusError,
		Error:  &Error{Code: ErrCodeValidation, Message: message},
	}
}

// executionError builds an error Result for runtime failures.
func executionError(message string) Result {
	return Result{
		Status: StatusError,
		Error:  &Error{Code: ErrCodeExecution, Message: message},
	}
}
