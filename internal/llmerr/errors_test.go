package llmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_ComparesKindOnly(t *testing.T) {
	err := Wrap(KindContextWindowExceeded, errors.New("too long"), "", WithLLMKey("OPENAI_GPT4O"))
	wrapped := fmt.Errorf("step failed: %w", err)

	assert.ErrorIs(t, wrapped, ErrContextWindowExceeded)
	assert.NotErrorIs(t, wrapped, ErrRetryableProvider)
}

func TestMissingCredentials(t *testing.T) {
	err := MissingCredentials("ANTHROPIC_CLAUDE", []string{"ANTHROPIC_API_KEY"})

	assert.ErrorIs(t, err, ErrMissingProviderCredentials)
	assert.Equal(t, []string{"ANTHROPIC_API_KEY"}, err.Missing)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindRetryableProvider, "")))
	assert.False(t, Retryable(New(KindCancelled, "")))
	assert.False(t, Retryable(New(KindContextWindowExceeded, "")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestFromAndKindOf(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindFatalProvider, cause, "call failed", WithModel("gpt-4o")))

	e, ok := From(err)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", e.Model)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindFatalProvider, KindOf(err))
	assert.Equal(t, KindFatalProvider, KindOf(cause))
}
