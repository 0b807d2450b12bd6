package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"httptunnel-go/internal/client"
)

// Failure kinds. Every error returned by Channel.Open matches one of them
// with errors.Is.
var (
	// ErrConfiguration means the channel settings cannot carry the payload.
	ErrConfiguration = errors.New("configuration error")
	// ErrBuildAborted means the transfer was abandoned before anything was sent.
	ErrBuildAborted = errors.New("build aborted")
	// ErrTransientSend means a non-final multipart request failed and will be retried.
	ErrTransientSend = errors.New("transient send error")
	// ErrRequest means the final request did not reach the target.
	ErrRequest = errors.New("request error")
	// ErrResponse means the target answered something that is not a valid result.
	ErrResponse = errors.New("response error")
	// ErrInterrupted means the operator interrupted a request or a wait.
	ErrInterrupted = errors.New("HTTP request interrupted")
)

// errExecution reports a multipart request that was not acknowledged.
var errExecution = fmt.Errorf("%w: execution error", ErrTransientSend)

// RequestError is a transport failure described for the operator.
type RequestError struct {
	Msg string
	Err error
}

func (e *RequestError) Error() string { return e.Msg }

func (e *RequestError) Unwrap() error { return e.Err }

// Is makes every RequestError match ErrRequest.
func (e *RequestError) Is(target error) bool { return target == ErrRequest }

// ResponseError is an unusable response, with runtime diagnostics when some
// could be extracted and an operator hint when one applies.
type ResponseError struct {
	Reason      string
	Hint        string
	Diagnostics []string
	Err         error
}

func (e *ResponseError) Error() string {
	msg := e.Reason
	if len(e.Diagnostics) > 0 {
		msg = strings.Join(e.Diagnostics, "\n")
	}
	if e.Hint != "" {
		msg += "\n" + e.Hint
	}
	return msg
}

func (e *ResponseError) Unwrap() error { return e.Err }

// Is makes every ResponseError match ErrResponse.
func (e *ResponseError) Is(target error) bool { return target == ErrResponse }

// TransferError reports a multipart transfer that stopped midway. The remote
// temporary file at TempPath is left behind and must be removed manually.
type TransferError struct {
	TempPath string
	Err      error
}

func (e *TransferError) Error() string {
	return "send error: multipart transfer interrupted\n" +
		"the remote temporary payload '" + e.TempPath + "' must be manually removed"
}

func (e *TransferError) Unwrap() error { return e.Err }

// describeSendError turns a transport error into an operator-readable error.
func describeSendError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ErrInterrupted
	}

	var se *client.StatusError
	if errors.As(err, &se) {
		return &RequestError{Msg: se.Error(), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{Msg: "Request error: timed out", Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		reason := urlErr.Err.Error()
		if urlErr.Timeout() {
			reason = "timed out"
		}
		return &RequestError{Msg: "Request error: " + reason, Err: err}
	}

	return &RequestError{Msg: "Unexpected error: " + err.Error(), Err: err}
}
