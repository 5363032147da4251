package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code, so callers can compare against a bare &AppError{Code: ...}.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Message == "" && t.Cause == nil && t.Code == e.Code
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline error taxonomy.
var (
	ErrTransientEngine     = errors.New("transient engine error")
	ErrPermanentEngine     = errors.New("permanent engine error")
	ErrAdapterUnconfigured = errors.New("adapter unconfigured")
	ErrSchemaInvalid       = errors.New("response failed schema validation")
	ErrPersistence         = errors.New("persistence error")
	ErrIndexPublish        = errors.New("index publish error")
	ErrAlreadyActive       = errors.New("document already has an active job")
	ErrInvalidState        = errors.New("invalid document state")
	ErrStaleRun            = errors.New("document status changed during run")
)

const (
	CodeTransientEngine = "TransientEngineError"
	CodePermanentEngine = "PermanentEngineError"
	CodeSchemaInvalid   = "SchemaInvalid"
	CodePersistence     = "PersistenceError"
	CodeIndexPublish    = "IndexPublishError"
	CodeConfig          = "CONFIG_ERROR"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func kindError(code string, kind error, message string, cause error) *AppError {
	if cause == nil {
		cause = kind
	} else if !errors.Is(cause, kind) {
		cause = fmt.Errorf("%w: %w", kind, cause)
	}
	return NewAppError(code, message, cause)
}

// NewTransientEngineError marks a retryable adapter failure (timeout, exhaustion, 5xx).
func NewTransientEngineError(stage string, cause error) error {
	return kindError(CodeTransientEngine, ErrTransientEngine, stage, cause)
}

// NewPermanentEngineError marks an adapter failure that retrying cannot fix.
func NewPermanentEngineError(stage string, cause error) error {
	return kindError(CodePermanentEngine, ErrPermanentEngine, stage, cause)
}

func NewSchemaInvalidError(stage, reason string) error {
	return kindError(CodeSchemaInvalid, ErrSchemaInvalid, stage, errors.New(reason))
}

func NewPersistenceError(op string, cause error) error {
	return kindError(CodePersistence, ErrPersistence, op, cause)
}

func NewIndexPublishError(op string, cause error) error {
	return kindError(CodeIndexPublish, ErrIndexPublish, op, cause)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// FailureReason renders the reason stored with a failed document.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", ae.Code, ae.Message, rootCause(ae.Cause))
		}
		return fmt.Sprintf("%s: %s", ae.Code, ae.Message)
	}
	return err.Error()
}

// rootCause drops the kind sentinel prefix so reasons read "PermanentEngineError: text_recognition: corrupt image".
func rootCause(err error) error {
	type multi interface{ Unwrap() []error }
	if m, ok := err.(multi); ok {
		errs := m.Unwrap()
		if len(errs) == 2 {
			return errs[1]
		}
	}
	return err
}

// IsRetryable reports whether an adapter error is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientEngine) || errors.Is(err, ErrSchemaInvalid)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// ToStatus converts a dispatcher/read-model error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// Code maps the error taxonomy onto gRPC codes.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrAlreadyActive):
		return codes.AlreadyExists
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStaleRun):
		return codes.FailedPrecondition
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, ErrTransientEngine):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
