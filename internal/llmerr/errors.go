// Package llmerr defines the normalized failure taxonomy of the gateway.
//
// Every failure surfaced by the registry, the dispatch core or the response
// parser is an *Error carrying a Kind. Kinds carry default attributes (for now
// only whether outer retry logic may retry the call), so callers can branch on
// errors.Is against the exported sentinels or ask Retryable(err).
package llmerr

import (
	stdErrors "errors"
	"fmt"
	"strings"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindMissingProviderCredentials Kind = "MISSING_PROVIDER_CREDENTIALS"
	KindDuplicateConfig            Kind = "DUPLICATE_CONFIG"
	KindUnknownConfig              Kind = "UNKNOWN_CONFIG"
	KindInvalidConfig              Kind = "INVALID_CONFIG"
	KindContextWindowExceeded      Kind = "CONTEXT_WINDOW_EXCEEDED"
	KindRetryableProvider          Kind = "RETRYABLE_PROVIDER_ERROR"
	KindFatalProvider              Kind = "FATAL_PROVIDER_ERROR"
	KindCancelled                  Kind = "CANCELLED"
	KindEmptyResponse              Kind = "EMPTY_RESPONSE"
	KindInvalidResponseFormat      Kind = "INVALID_RESPONSE_FORMAT"
)

// Attributes are the default behaviours attached to a Kind.
type Attributes struct {
	Message   string
	Retryable bool
}

var attributes = map[Kind]Attributes{
	KindMissingProviderCredentials: {Message: "missing provider credentials"},
	KindDuplicateConfig:            {Message: "duplicate llm config"},
	KindUnknownConfig:              {Message: "unknown llm config"},
	KindInvalidConfig:              {Message: "invalid llm config"},
	KindContextWindowExceeded:      {Message: "context window exceeded"},
	KindRetryableProvider:          {Message: "retryable provider error", Retryable: true},
	KindFatalProvider:              {Message: "provider error"},
	KindCancelled:                  {Message: "llm call cancelled"},
	KindEmptyResponse:              {Message: "empty llm response", Retryable: true},
	KindInvalidResponseFormat:      {Message: "invalid llm response format", Retryable: true},
}

// AttributesOf returns the attributes of k. Unknown kinds behave like
// KindFatalProvider.
func AttributesOf(k Kind) Attributes {
	if attr, ok := attributes[k]; ok {
		return attr
	}
	return attributes[KindFatalProvider]
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrMissingProviderCredentials = &Error{kind: KindMissingProviderCredentials}
	ErrDuplicateConfig            = &Error{kind: KindDuplicateConfig}
	ErrUnknownConfig              = &Error{kind: KindUnknownConfig}
	ErrInvalidConfig              = &Error{kind: KindInvalidConfig}
	ErrContextWindowExceeded      = &Error{kind: KindContextWindowExceeded}
	ErrRetryableProvider          = &Error{kind: KindRetryableProvider}
	ErrFatalProvider              = &Error{kind: KindFatalProvider}
	ErrCancelled                  = &Error{kind: KindCancelled}
	ErrEmptyResponse              = &Error{kind: KindEmptyResponse}
	ErrInvalidResponseFormat      = &Error{kind: KindInvalidResponseFormat}
)

// Error is the gateway's unified error type.
type Error struct {
	kind    Kind
	message string
	cause   error

	// LLMKey is the logical model key involved, when known.
	LLMKey string
	// Model is the concrete provider model, when known.
	Model string
	// PromptName identifies the prompt that was being sent, when known.
	PromptName string
	// Missing lists absent credential names for KindMissingProviderCredentials.
	Missing []string
}

// Option customizes a new Error.
type Option func(*Error)

// WithLLMKey records the logical key.
func WithLLMKey(key string) Option { return func(e *Error) { e.LLMKey = key } }

// WithModel records the provider model.
func WithModel(model string) Option { return func(e *Error) { e.Model = model } }

// WithPrompt records the prompt name.
func WithPrompt(name string) Option { return func(e *Error) { e.PromptName = name } }

// New creates an Error of kind k. An empty message falls back to the kind's
// default message.
func New(k Kind, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(k).Message
	}
	e := &Error{kind: k, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap creates an Error of kind k around cause.
func Wrap(k Kind, cause error, message string, opts ...Option) *Error {
	e := New(k, message, opts...)
	e.cause = cause
	return e
}

// MissingCredentials reports the absent credential names of a config.
func MissingCredentials(key string, missing []string) *Error {
	e := New(KindMissingProviderCredentials,
		fmt.Sprintf("llm config %q is missing credentials: %s", key, strings.Join(missing, ", ")),
		WithLLMKey(key))
	e.Missing = append([]string(nil), missing...)
	return e
}

// DuplicateConfig reports a second registration for key.
func DuplicateConfig(key string) *Error {
	return New(KindDuplicateConfig, fmt.Sprintf("llm config %q is already registered", key), WithLLMKey(key))
}

// UnknownConfig reports a lookup of an unregistered key.
func UnknownConfig(key string) *Error {
	return New(KindUnknownConfig, fmt.Sprintf("llm config %q is not registered", key), WithLLMKey(key))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.kind, e.message)
	if e.LLMKey != "" && !strings.Contains(e.message, e.LLMKey) {
		fmt.Fprintf(&b, " (llm_key=%s", e.LLMKey)
		if e.Model != "" {
			fmt.Fprintf(&b, " model=%s", e.Model)
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// Kind returns the failure class.
func (e *Error) Kind() Kind {
	if e == nil {
		return KindFatalProvider
	}
	return e.kind
}

// Message returns the human readable message without the cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Retryable reports whether outer retry logic may retry.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.kind).Retryable
}

// From extracts the first *Error in err's chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindFatalProvider for foreign errors.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind()
	}
	return KindFatalProvider
}

// Retryable reports whether err may be retried by the caller.
func Retryable(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}
