// Package models contains shared data models used across the casefile codebase.
package models

import "context"

// TokenFunc receives generated text fragments in generation order.
type TokenFunc func(token string)

// HypothesisProvider generates a narrative assessment from collected evidence.
// Never call specific AI providers directly; inject this interface.
type HypothesisProvider interface {
	// Generate returns the whole hypothesis in one response.
	Generate(ctx context.Context, req HypothesisRequest) (Hypothesis, error)
	// GenerateStream calls onToken for every fragment as it arrives. It returns
	// once the upstream stream is exhausted; the sequence cannot be restarted.
	GenerateStream(ctx context.Context, req HypothesisRequest, onToken TokenFunc) error
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// VisionProvider analyzes several images in a single multimodal call.
type VisionProvider interface {
	AnalyzeImagesStream(ctx context.Context, req VisionRequest, onToken TokenFunc) error
	Name() string
}

// HypothesisRequest is the input to text-only hypothesis generation.
type HypothesisRequest struct {
	Objects []ObjectEvidence
	Texts   []TextEvidence
	Context string // free-text case notes supplied by the caller, may be empty
}

// VisionRequest is the input to multi-image vision analysis.
type VisionRequest struct {
	ImageURLs []string
	Context   string
}

// Hypothesis is a completed, non-streamed generation.
type Hypothesis struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// ObjectEvidence is the prompt-facing projection of a detected object.
type ObjectEvidence struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TextEvidence is the prompt-facing projection of an extracted text. A nil
// Confidence means the OCR engine did not report one.
type TextEvidence struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}
