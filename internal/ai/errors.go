package ai

import "github.com/kiranshivaraju/casefile/internal/ai/llm"

// Re-exported so callers can match provider failures without importing llm.
var (
	ErrProviderUnavailable = llm.ErrProviderUnavailable
	ErrInferenceTimeout    = llm.ErrInferenceTimeout
	ErrInvalidResponse     = llm.ErrInvalidResponse
)
