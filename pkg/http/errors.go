package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	ErrRangesNotSupported = errors.New("byte ranges not supported by server")
	ErrBodyTooLarge       = errors.New("response body too large")
	ErrUnexpectedStatus   = errors.New("unexpected response status")

	ErrTimeout         = errors.New("operation timed out")
	ErrNetworkProblem  = errors.New("network-related error")
	ErrRequestCreation = errors.New("failed to create request")

	ErrServerProblem    = errors.New("server error (5xx)")
	ErrTooManyRequests  = errors.New("too many requests (429)")
	ErrResourceNotFound = errors.New("resource not found (404)")
	ErrAccessDenied     = errors.New("access denied (403)")
	ErrAuthentication   = errors.New("authentication required (401)")
	ErrGone             = errors.New("resource gone (410)")
	ErrClientRequest    = errors.New("client error (4xx)")

	ErrUnknown       = errors.New("unknown error")
	ErrUnexpectedEOF = errors.New("unexpected EOF")
)

// ClassifyHTTPError converts an HTTP status code into an appropriate error.
func ClassifyHTTPError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrResourceNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangesNotSupported
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	default:
		switch {
		case statusCode >= http.StatusInternalServerError:
			return ErrServerProblem
		case statusCode >= http.StatusBadRequest:
			return ErrClientRequest
		default:
			return nil
		}
	}
}

// ClassifyError categorizes a general error into a sentinel error.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetworkProblem
	}

	return ErrUnknown
}

// failureClasses maps sentinel errors to metric label values, checked in order.
var failureClasses = []struct {
	err   error
	class string
}{
	{ErrTimeout, "timeout"},
	{ErrNetworkProblem, "network"},
	{ErrUnexpectedEOF, "truncated"},
	{ErrServerProblem, "server_error"},
	{ErrTooManyRequests, "throttled"},
	{ErrResourceNotFound, "not_found"},
	{ErrGone, "not_found"},
	{ErrAccessDenied, "denied"},
	{ErrAuthentication, "denied"},
	{ErrRangesNotSupported, "range"},
	{ErrClientRequest, "client_error"},
	{ErrBodyTooLarge, "too_large"},
	{ErrUnexpectedStatus, "bad_status"},
}

// FailureClass names the kind of transport failure err is, for metrics and
// failure details. Unrecognised errors are "other".
func FailureClass(err error) string {
	for _, fc := range failureClasses {
		if errors.Is(err, fc.err) {
			return fc.class
		}
	}

	return "other"
}

// DescribeFailure is err prefixed with its failure class.
func DescribeFailure(err error) string {
	return fmt.Sprintf("%s: %v", FailureClass(err), err)
}
