// Package errors provides structured error handling for the pipeline.
// Every per-frame failure is an AppError carrying a closed Code; gRPC
// status codes from the remote engine are translated at the boundary.
package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies pipeline errors.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeTimeout
	CodeCancelled
	CodeUnavailable
	CodeFetchFailed
	CodeProcessFailed
	CodeProcessTimeout
	CodeBufferFull
	CodeConfigInvalid
)

var codeNames = [...]string{
	CodeUnknown:         "UNKNOWN",
	CodeInternal:        "INTERNAL",
	CodeInvalidArgument: "INVALID_ARGUMENT",
	CodeTimeout:         "TIMEOUT",
	CodeCancelled:       "CANCELLED",
	CodeUnavailable:     "UNAVAILABLE",
	CodeFetchFailed:     "FETCH_FAILED",
	CodeProcessFailed:   "PROCESS_FAILED",
	CodeProcessTimeout:  "PROCESS_TIMEOUT",
	CodeBufferFull:      "BUFFER_FULL",
	CodeConfigInvalid:   "CONFIG_INVALID",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "UNKNOWN"
}

// grpcCodeMap maps pipeline codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:         codes.Unknown,
	CodeInternal:        codes.Internal,
	CodeInvalidArgument: codes.InvalidArgument,
	CodeTimeout:         codes.DeadlineExceeded,
	CodeCancelled:       codes.Canceled,
	CodeUnavailable:     codes.Unavailable,
	CodeFetchFailed:     codes.Internal,
	CodeProcessFailed:   codes.Internal,
	CodeProcessTimeout:  codes.DeadlineExceeded,
	CodeBufferFull:      codes.ResourceExhausted,
	CodeConfigInvalid:   codes.InvalidArgument,
}

// AppError is the base error type with a structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// New creates an AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates an AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata attaches a metadata entry, allocating lazily.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError translates a gRPC error into an AppError (best effort).
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
}

func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Unavailable:
		return CodeUnavailable
	case codes.Internal:
		return CodeProcessFailed
	default:
		return CodeUnknown
	}
}

// IsCode checks whether err is an AppError with the given code.
func IsCode(err error, code Code) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeProcessTimeout:
		return true
	default:
		return false
	}
}
