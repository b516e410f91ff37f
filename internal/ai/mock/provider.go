package mock

import (
	"context"
	"strings"

	"github.com/kiranshivaraju/casefile/internal/ai"
	"github.com/kiranshivaraju/casefile/internal/ai/llm"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// MockProvider satisfies models.HypothesisProvider and models.VisionProvider for testing.
type MockProvider struct {
	Name_                   string
	GenerateFunc            func(ctx context.Context, req models.HypothesisRequest) (models.Hypothesis, error)
	GenerateStreamFunc      func(ctx context.Context, req models.HypothesisRequest, onToken models.TokenFunc) error
	AnalyzeImagesStreamFunc func(ctx context.Context, req models.VisionRequest, onToken models.TokenFunc) error
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.HypothesisRequest) (models.Hypothesis, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.Hypothesis{}, nil
}

func (m *MockProvider) GenerateStream(ctx context.Context, req models.HypothesisRequest, onToken models.TokenFunc) error {
	if m.GenerateStreamFunc != nil {
		return m.GenerateStreamFunc(ctx, req, onToken)
	}
	return nil
}

func (m *MockProvider) AnalyzeImagesStream(ctx context.Context, req models.VisionRequest, onToken models.TokenFunc) error {
	if m.AnalyzeImagesStreamFunc != nil {
		return m.AnalyzeImagesStreamFunc(ctx, req, onToken)
	}
	return nil
}

// DefaultTokens is what NewMockProvider streams, in order.
var DefaultTokens = []string{"Key findings: ", "knife near ", "the exit. ", "Hypothesis: forced entry. "}

// NewMockProvider returns a MockProvider with sensible default responses.
// Streams emit DefaultTokens; Generate returns their trimmed concatenation.
func NewMockProvider() *MockProvider {
	emit := func(ctx context.Context, onToken models.TokenFunc) error {
		for _, tok := range DefaultTokens {
			if err := ctx.Err(); err != nil {
				return ai.ErrInferenceTimeout
			}
			onToken(tok)
		}
		return nil
	}
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.HypothesisRequest) (models.Hypothesis, error) {
			return models.Hypothesis{
				Content:    strings.TrimSpace(strings.Join(DefaultTokens, "")),
				Confidence: llm.Confidence(req),
			}, nil
		},
		GenerateStreamFunc: func(ctx context.Context, _ models.HypothesisRequest, onToken models.TokenFunc) error {
			return emit(ctx, onToken)
		},
		AnalyzeImagesStreamFunc: func(ctx context.Context, _ models.VisionRequest, onToken models.TokenFunc) error {
			return emit(ctx, onToken)
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.HypothesisRequest) (models.Hypothesis, error) {
			return models.Hypothesis{}, err
		},
		GenerateStreamFunc: func(_ context.Context, _ models.HypothesisRequest, _ models.TokenFunc) error {
			return err
		},
		AnalyzeImagesStreamFunc: func(_ context.Context, _ models.VisionRequest, _ models.TokenFunc) error {
			return err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	wait := func(ctx context.Context) error {
		<-ctx.Done()
		return ai.ErrInferenceTimeout
	}
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.HypothesisRequest) (models.Hypothesis, error) {
			return models.Hypothesis{}, wait(ctx)
		},
		GenerateStreamFunc: func(ctx context.Context, _ models.HypothesisRequest, _ models.TokenFunc) error {
			return wait(ctx)
		},
		AnalyzeImagesStreamFunc: func(ctx context.Context, _ models.VisionRequest, _ models.TokenFunc) error {
			return wait(ctx)
		},
	}
}

// Compile-time checks.
var (
	_ models.HypothesisProvider = (*MockProvider)(nil)
	_ models.VisionProvider     = (*MockProvider)(nil)
)
