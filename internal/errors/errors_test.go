package errors

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppErrorFormat(t *testing.T) {
	err := Newf(CodeProcessTimeout, "engine call for frame %d exceeded %s", 7, "10s").
		WithMetadata("frame_id", "7")
	got := err.Error()
	if got == "" || got[0] != '[' {
		t.Errorf("unexpected format: %q", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, CodeFetchFailed, "source fetch failed")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	var ae *AppError
	if !errors.As(err, &ae) || ae.Code != CodeFetchFailed {
		t.Errorf("errors.As failed: %v", err)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	if got := New(CodeBufferFull, "full").GRPCCode(); got != codes.ResourceExhausted {
		t.Errorf("BufferFull mapped to %v", got)
	}
	if got := New(CodeProcessTimeout, "slow").GRPCCode(); got != codes.DeadlineExceeded {
		t.Errorf("ProcessTimeout mapped to %v", got)
	}
}

func TestFromGRPCError(t *testing.T) {
	err := FromGRPCError(status.Error(codes.Unavailable, "engine down"))
	if err.Code != CodeUnavailable {
		t.Errorf("expected CodeUnavailable, got %v", err.Code)
	}
	if err.Message != "engine down" {
		t.Errorf("message lost: %q", err.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{New(CodeUnavailable, "x"), true},
		{New(CodeTimeout, "x"), true},
		{New(CodeProcessTimeout, "x"), true},
		{New(CodeConfigInvalid, "x"), false},
		{New(CodeBufferFull, "x"), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeConfigInvalid, "bad")
	if !IsCode(err, CodeConfigInvalid) {
		t.Error("IsCode missed matching code")
	}
	if IsCode(err, CodeTimeout) {
		t.Error("IsCode matched wrong code")
	}
}
