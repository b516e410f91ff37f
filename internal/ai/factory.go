package ai

import (
	"fmt"

	"github.com/kiranshivaraju/casefile/internal/ai/anthropic"
	"github.com/kiranshivaraju/casefile/internal/ai/ollama"
	"github.com/kiranshivaraju/casefile/internal/ai/openai"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// NewProvider constructs the text hypothesis provider named by cfg.Provider.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.HypothesisProvider, error) {
	timeout := cfg.InferenceTimeout
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, timeout), nil
	case "vllm":
		return openai.NewProvider(cfg.VLLM, timeout, openai.WithName("vllm")), nil
	case "groq":
		return openai.NewProvider(cfg.Groq, timeout, openai.WithName("groq")), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI.EndpointConfig, timeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, timeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, groq, openai, anthropic", cfg.Provider)
	}
}

// NewVisionProvider constructs the multi-image provider named by cfg.VisionProvider.
func NewVisionProvider(cfg config.AIConfig) (models.VisionProvider, error) {
	timeout := cfg.InferenceTimeout
	switch cfg.VisionProvider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI.EndpointConfig, timeout,
			openai.WithVisionModel(cfg.OpenAI.VisionModel)), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, timeout), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q: must be one of openai, anthropic", cfg.VisionProvider)
	}
}
