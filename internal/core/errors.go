package core

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// Sentinel errors. Every error returned by Service and Store wraps exactly
// one of these (or context.Canceled / context.DeadlineExceeded), so callers
// branch with errors.Is and Classify never has to guess.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInstructionNotFound = errors.New("instruction not found")

	ErrRowOutOfRange    = errors.New("row out of range")
	ErrUnknownColumn    = errors.New("unknown column")
	ErrInvalidValue     = errors.New("invalid cell value")
	ErrEmptyInstruction = errors.New("instruction is empty")
	ErrNoFile           = errors.New("no file provided")
	ErrInvalidRequest   = errors.New("invalid request")

	ErrUnsupportedFormat = sheet.ErrUnsupportedFormat
	ErrParseFailure      = sheet.ErrParseFailure

	ErrLockTimeout = errors.New("session is busy")

	ErrTranslationFailed    = errors.New("translation failed")
	ErrExecutionFailed      = errors.New("execution failed")
	ErrExecutionTimeout     = errors.New("execution timed out")
	ErrInstructionCancelled = errors.New("instruction cancelled")

	ErrFileTooLarge        = errors.New("file too large")
	ErrRowLimitExceeded    = sheet.ErrRowLimitExceeded
	ErrTooManyInstructions = errors.New("too many instructions in progress")
)

// ErrorKind is the coarse error taxonomy exposed to clients.
type ErrorKind string

const (
	KindInput              ErrorKind = "InputError"
	KindNotFound           ErrorKind = "NotFoundError"
	KindConcurrencyTimeout ErrorKind = "ConcurrencyTimeout"
	KindTranslation        ErrorKind = "TranslationError"
	KindExecution          ErrorKind = "ExecutionError"
	KindExecutionTimeout   ErrorKind = "ExecutionTimeout"
	KindCancelled          ErrorKind = "Cancelled"
	KindResourceExhaustion ErrorKind = "ResourceExhaustion"
	KindInternal           ErrorKind = "InternalError"
)

// Retryable reports whether resubmitting the same request may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConcurrencyTimeout, KindTranslation, KindExecution, KindExecutionTimeout:
		return true
	default:
		return false
	}
}

// Classification describes how an error is surfaced to a client.
type Classification struct {
	Kind      ErrorKind
	Status    int
	Retryable bool
	UserMessage
}

// Classify maps err onto the taxonomy. Unknown errors classify as
// KindInternal with code ERR000; that only happens for programming errors.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	for _, r := range errorRules {
		if errors.Is(err, r.target) {
			return Classification{
				Kind:        r.kind,
				Status:      r.status,
				Retryable:   r.kind.Retryable(),
				UserMessage: r.msg,
			}
		}
	}
	return Classification{
		Kind:        KindInternal,
		Status:      http.StatusInternalServerError,
		UserMessage: defaultMessage,
	}
}

// IsContextError reports whether err stems from context cancellation or
// deadline expiry.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
