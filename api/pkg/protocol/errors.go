package protocol

import "fmt"

// Stable wire error codes. These are part of the protocol contract and must
// not change meaning.
const (
	// Connection plane.
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout = "CONNECTION_TIMEOUT"
	ErrCodeConnectionClosed  = "CONNECTION_CLOSED"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeReconnectFailed   = "RECONNECT_FAILED"

	// Command plane.
	ErrCodeCommandTimeout = "COMMAND_TIMEOUT"
	ErrCodeCommandFailed  = "COMMAND_FAILED"
	ErrCodeUnknownMethod  = "UNKNOWN_METHOD"
	ErrCodeInvalidParams  = "INVALID_PARAMS"
	ErrCodeExecutionError = "EXECUTION_ERROR"
	ErrCodeCancelled      = "CANCELLED"

	// Engine plane.
	ErrCodeSelectorError   = "SELECTOR_ERROR"
	ErrCodeNavigationError = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT"

	// Session plane.
	ErrCodeSessionNotFound       = "SESSION_NOT_FOUND"
	ErrCodeSessionLimitReached   = "SESSION_LIMIT_REACHED"
	ErrCodeSessionCreationFailed = "SESSION_CREATION_FAILED"
	ErrCodeSessionCrashed        = "SESSION_CRASHED"

	// Reserved for external bootstrap errors; the core never emits it.
	ErrCodeProviderError = "PROVIDER_ERROR"
)

// CommandError is the error half of a result envelope.
type CommandError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCommandError builds a CommandError with no details.
func NewCommandError(code, message string) *CommandError {
	return &CommandError{Code: code, Message: message}
}
