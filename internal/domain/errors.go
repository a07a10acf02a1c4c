package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Category sentinels. Wrap them with NewDomainError or WrapOp; never compare
// error strings.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrUnavailable      = fmt.Errorf("unavailable")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrTokenExpired     = fmt.Errorf("token expired")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrCircuitOpen      = fmt.Errorf("circuit breaker open")
	ErrEmptyMessage     = fmt.Errorf("empty message")
	ErrAssistantOffline = fmt.Errorf("assistant offline")
	ErrKnowledgeMissing = fmt.Errorf("knowledge base not attached")
	ErrRunFailed        = fmt.Errorf("assistant run failed")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrUserNotFound     = fmt.Errorf("user not found")
	ErrUserExists       = fmt.Errorf("user already exists")
	ErrResetCode        = fmt.Errorf("invalid or expired reset code")
	ErrUnsupportedMedia = fmt.Errorf("unsupported media type")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrNoStreaming      = fmt.Errorf("response writer does not support streaming")
	ErrAuditWrite       = fmt.Errorf("audit log write failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Chat.Blocking")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RunTimeoutError is returned when a polled assistant run does not reach a
// terminal status within the attempt ceiling.
type RunTimeoutError struct {
	RunID    string
	Attempts int
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("run %s did not complete after %d attempts", e.RunID, e.Attempts)
}

// Is makes errors.Is(err, ErrTimeout) hold for run timeouts.
func (e *RunTimeoutError) Is(target error) bool { return target == ErrTimeout }

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category returned to clients and
// used as a metrics label.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeTokenExpired     ErrorCode = "TOKEN_EXPIRED"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeEmptyMessage     ErrorCode = "EMPTY_MESSAGE"
	CodeAssistantOffline ErrorCode = "ASSISTANT_OFFLINE"
	CodeKnowledgeMissing ErrorCode = "KNOWLEDGE_MISSING"
	CodeRunFailed        ErrorCode = "RUN_FAILED"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeUserNotFound     ErrorCode = "USER_NOT_FOUND"
	CodeUserExists       ErrorCode = "USER_EXISTS"
	CodeResetCode        ErrorCode = "RESET_CODE"
	CodeUnsupportedMedia ErrorCode = "UNSUPPORTED_MEDIA"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrInvalidInput:     CodeInvalidInput,
	ErrPermissionDenied: CodePermissionDenied,
	ErrUnavailable:      CodeUnavailable,
	ErrProviderError:    CodeProviderError,

	ErrAuthInvalid:      CodeAuthInvalid,
	ErrTokenExpired:     CodeTokenExpired,
	ErrRateLimit:        CodeRateLimit,
	ErrCircuitOpen:      CodeCircuitOpen,
	ErrEmptyMessage:     CodeEmptyMessage,
	ErrAssistantOffline: CodeAssistantOffline,
	ErrKnowledgeMissing: CodeKnowledgeMissing,
	ErrRunFailed:        CodeRunFailed,
	ErrSessionNotFound:  CodeSessionNotFound,
	ErrUserNotFound:     CodeUserNotFound,
	ErrUserExists:       CodeUserExists,
	ErrResetCode:        CodeResetCode,
	ErrUnsupportedMedia: CodeUnsupportedMedia,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
}

// specificity orders the chain walk in ErrorCodeOf so that specific sentinels
// win over the categories they may wrap.
var specificity = []error{
	ErrTokenExpired, ErrAuthInvalid, ErrRateLimit, ErrCircuitOpen,
	ErrEmptyMessage, ErrAssistantOffline, ErrKnowledgeMissing, ErrRunFailed,
	ErrSessionNotFound, ErrUserNotFound, ErrUserExists, ErrResetCode,
	ErrUnsupportedMedia, ErrConfigLoad, ErrDecryption,
	ErrTimeout, ErrNotFound, ErrDuplicate, ErrInvalidInput,
	ErrPermissionDenied, ErrUnavailable, ErrProviderError,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for _, sentinel := range specificity {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

var statusMap = map[ErrorCode]int{
	CodeNotFound:         http.StatusNotFound,
	CodeSessionNotFound:  http.StatusNotFound,
	CodeUserNotFound:     http.StatusNotFound,
	CodeDuplicate:        http.StatusConflict,
	CodeUserExists:       http.StatusConflict,
	CodeTimeout:          http.StatusGatewayTimeout,
	CodeInvalidInput:     http.StatusBadRequest,
	CodeEmptyMessage:     http.StatusBadRequest,
	CodeResetCode:        http.StatusBadRequest,
	CodePermissionDenied: http.StatusForbidden,
	CodeAuthInvalid:      http.StatusUnauthorized,
	CodeTokenExpired:     http.StatusUnauthorized,
	CodeRateLimit:        http.StatusTooManyRequests,
	CodeUnavailable:      http.StatusServiceUnavailable,
	CodeCircuitOpen:      http.StatusServiceUnavailable,
	CodeAssistantOffline: http.StatusServiceUnavailable,
	CodeKnowledgeMissing: http.StatusServiceUnavailable,
	CodeProviderError:    http.StatusBadGateway,
	CodeRunFailed:        http.StatusBadGateway,
	CodeUnsupportedMedia: http.StatusUnsupportedMediaType,
}

// HTTPStatusOf maps an error to the HTTP status an API handler should return.
func HTTPStatusOf(err error) int {
	if status, ok := statusMap[ErrorCodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
