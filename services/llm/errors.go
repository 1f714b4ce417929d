package llm

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// ProviderUnavailableError wraps auth, rate-limit, and network failures from
// an LLM provider. It is fatal for the current chat turn: the pipeline logs
// it with context and surfaces it to the caller, with no automatic retry.
type ProviderUnavailableError struct {
	Provider datatypes.ProviderKind
	Op       string // "complete", "stream", "embed"
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable during %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// IsProviderUnavailable checks if an error is a ProviderUnavailableError.
func IsProviderUnavailable(err error) bool {
	var pe *ProviderUnavailableError
	return errors.As(err, &pe)
}

// UnsupportedProviderError marks a bot bound to a provider kind with no
// implementation. This is a configuration error, not a transient: it is
// raised immediately and never retried.
type UnsupportedProviderError struct {
	Provider datatypes.ProviderKind
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported AI provider: %s", e.Provider)
}

// IsUnsupportedProvider checks if an error is an UnsupportedProviderError.
func IsUnsupportedProvider(err error) bool {
	var ue *UnsupportedProviderError
	return errors.As(err, &ue)
}
