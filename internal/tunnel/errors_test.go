package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"httptunnel-go/internal/client"
)

func TestDescribeSendError(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want string
		kind error
	}{
		{"interrupted", canceled, errors.New("boom"), "HTTP request interrupted", ErrInterrupted},
		{"status", context.Background(), &client.StatusError{Code: 404}, "HTTP Error 404: Not Found", ErrRequest},
		{"timeout", context.Background(), fmt.Errorf("do: %w", context.DeadlineExceeded), "Request error: timed out", ErrRequest},
		{"url", context.Background(), &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, "Request error: connection refused", ErrRequest},
		{"other", context.Background(), errors.New("weird"), "Unexpected error: weird", ErrRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := describeSendError(tt.ctx, tt.err)
			if err.Error() != tt.want {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.want)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("error %v does not match %v", err, tt.kind)
			}
		})
	}
}

func TestResponseError(t *testing.T) {
	err := &ResponseError{Reason: "bad", Hint: "check settings"}
	if err.Error() != "bad\ncheck settings" {
		t.Errorf("Error() = %q", err.Error())
	}

	err = &ResponseError{Reason: "bad", Diagnostics: []string{"PHP Error: a", "PHP Error: b"}}
	if err.Error() != "PHP Error: a\nPHP Error: b" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrResponse) {
		t.Error("ResponseError does not match ErrResponse")
	}
}

func TestTransferError(t *testing.T) {
	err := fmt.Errorf("open: %w", &TransferError{TempPath: "/tmp/abc", Err: ErrInterrupted})
	if !strings.Contains(err.Error(), "'/tmp/abc' must be manually removed") {
		t.Errorf("Error() = %q, want temp path", err.Error())
	}
	if !errors.Is(err, ErrInterrupted) {
		t.Error("TransferError does not unwrap to its cause")
	}
	if !errors.Is(errExecution, ErrTransientSend) {
		t.Error("errExecution is not a transient send error")
	}
}
