package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestAppErrorIsMatchesCode(t *testing.T) {
	sentinel := New(CodeNotRecording, "no active session")
	wrapped := fmt.Errorf("stop: %w", Wrap(errors.New("boom"), CodeNotRecording, "again"))

	if !errors.Is(wrapped, sentinel) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(wrapped, New(CodeAlreadyRecording, "x")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code     Code
		grpc     codes.Code
		httpCode int
	}{
		{CodeAlreadyRecording, codes.FailedPrecondition, http.StatusConflict},
		{CodeSourceUnavailable, codes.Unavailable, http.StatusServiceUnavailable},
		{CodeExcessiveGap, codes.DataLoss, http.StatusUnprocessableEntity},
		{CodeMixFailed, codes.Internal, http.StatusInternalServerError},
		{Code("BOGUS"), codes.Unknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		e := New(tt.code, "msg")
		if got := e.GRPCCode(); got != tt.grpc {
			t.Errorf("%s GRPCCode = %v, want %v", tt.code, got, tt.grpc)
		}
		if got := e.HTTPStatus(); got != tt.httpCode {
			t.Errorf("%s HTTPStatus = %d, want %d", tt.code, got, tt.httpCode)
		}
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	orig := New(CodeCoverageShortfall, "system ends early").WithMetadata("session", "s1")
	got := FromGRPCError(orig.GRPCStatus().Err())

	if got.Code != CodeCoverageShortfall {
		t.Errorf("Code = %s, want %s", got.Code, CodeCoverageShortfall)
	}
	if got.Metadata["session"] != "s1" {
		t.Errorf("Metadata = %v, want session=s1", got.Metadata)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("open: %w", New(CodeSourceUnavailable, "no device"))) {
		t.Error("source unavailable should be retryable")
	}
	if IsRetryable(New(CodeInvalidState, "closed")) {
		t.Error("invalid state should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}
