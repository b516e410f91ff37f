// Package llm holds what every model provider shares: prompts, sentinel errors
// and the HTTP plumbing for streamed completions.
package llm

import "errors"

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)
