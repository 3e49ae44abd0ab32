// Package errors provides the structured error type shared by the recorder,
// its HTTP/WebSocket API and the gRPC health surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an AppError.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInternal          Code = "INTERNAL"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeTimeout           Code = "TIMEOUT"
	CodeCancelled         Code = "CANCELLED"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeAlreadyRecording  Code = "ALREADY_RECORDING"
	CodeNotRecording      Code = "NOT_RECORDING"
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	CodePersistFailed     Code = "PERSIST_FAILED"
	CodeNoSegments        Code = "NO_SEGMENTS"
	CodeExcessiveGap      Code = "EXCESSIVE_GAP"
	CodeCoverageShortfall Code = "COVERAGE_SHORTFALL"
	CodeMixFailed         Code = "MIX_FAILED"
	CodeConfigInvalid     Code = "CONFIG_INVALID"
)

// Domain reported in gRPC ErrorInfo details.
const Domain = "recorder.ai-and-i"

var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:           codes.Unknown,
	CodeInternal:          codes.Internal,
	CodeInvalidArgument:   codes.InvalidArgument,
	CodeNotFound:          codes.NotFound,
	CodeUnavailable:       codes.Unavailable,
	CodeTimeout:           codes.DeadlineExceeded,
	CodeCancelled:         codes.Canceled,
	CodeInvalidState:      codes.FailedPrecondition,
	CodeAlreadyRecording:  codes.FailedPrecondition,
	CodeNotRecording:      codes.FailedPrecondition,
	CodeSourceUnavailable: codes.Unavailable,
	CodePersistFailed:     codes.Internal,
	CodeNoSegments:        codes.FailedPrecondition,
	CodeExcessiveGap:      codes.DataLoss,
	CodeCoverageShortfall: codes.DataLoss,
	CodeMixFailed:         codes.Internal,
	CodeConfigInvalid:     codes.InvalidArgument,
}

var httpCodeMap = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeInvalidState:      http.StatusConflict,
	CodeAlreadyRecording:  http.StatusConflict,
	CodeNotRecording:      http.StatusConflict,
	CodeSourceUnavailable: http.StatusServiceUnavailable,
	CodeNoSegments:        http.StatusUnprocessableEntity,
	CodeExcessiveGap:      http.StatusUnprocessableEntity,
	CodeCoverageShortfall: http.StatusUnprocessableEntity,
	CodeConfigInvalid:     http.StatusBadRequest,
}

// AppError is the base error type with structured error code and metadata.
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

// Is reports whether target is an AppError carrying the same code, so package
// sentinels match wrapped instances.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status used by the REST API.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpCodeMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain, Metadata: e.Metadata}
	if withDetails, err := st.WithDetails(info); err == nil {
		return withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{Code: Code(info.GetReason()), Message: st.Message(), Metadata: info.GetMetadata()}
		}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.FailedPrecondition:
		return CodeInvalidState
	default:
		return CodeUnknown
	}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout, CodeSourceUnavailable, CodePersistFailed:
		return true
	default:
		return false
	}
}
