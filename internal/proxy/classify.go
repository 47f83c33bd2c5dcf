package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/provider"
)

var contextWindowMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"prompt is too long",
	"input token count",
	"too many tokens",
}

func isContextWindow(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range contextWindowMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// classify maps any dispatch failure onto the gateway taxonomy.
func classify(err error, opts ...llmerr.Option) *llmerr.Error {
	if err == nil {
		return nil
	}
	if e, ok := llmerr.From(err); ok {
		for _, opt := range opts {
			if opt != nil {
				opt(e)
			}
		}
		return e
	}

	if errors.Is(err, context.Canceled) {
		return llmerr.Wrap(llmerr.KindCancelled, err, "", opts...)
	}
	if isContextWindow(err) {
		return llmerr.Wrap(llmerr.KindContextWindowExceeded, err, "", opts...)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, provider.ErrTokenLimit) {
		return llmerr.Wrap(llmerr.KindRetryableProvider, err, "", opts...)
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && retryableStatus(apiErr.StatusCode) {
		return llmerr.Wrap(llmerr.KindRetryableProvider, err, "", opts...)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llmerr.Wrap(llmerr.KindRetryableProvider, err, "", opts...)
	}
	return llmerr.Wrap(llmerr.KindFatalProvider, err, "", opts...)
}

// outcome is the metrics label of a classified failure.
func outcome(err *llmerr.Error) string {
	if err == nil {
		return "success"
	}
	switch err.Kind() {
	case llmerr.KindCancelled:
		return "cancelled"
	case llmerr.KindContextWindowExceeded:
		return "context_window"
	case llmerr.KindEmptyResponse, llmerr.KindInvalidResponseFormat:
		return "invalid_response"
	}
	if err.Retryable() {
		return "retryable"
	}
	return "fatal"
}
