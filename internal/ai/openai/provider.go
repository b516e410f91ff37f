// Package openai implements hypothesis and vision providers for any endpoint
// speaking the OpenAI chat completions API (OpenAI, Groq, vLLM).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/casefile/internal/ai/llm"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

const (
	textMaxTokens   = 400
	visionMaxTokens = 600
)

// Provider implements models.HypothesisProvider and models.VisionProvider.
type Provider struct {
	name        string
	model       string
	visionModel string
	client      *resty.Client
}

var (
	_ models.HypothesisProvider = (*Provider)(nil)
	_ models.VisionProvider     = (*Provider)(nil)
)

// Option customizes a Provider.
type Option func(*Provider)

// WithName sets the identifier reported by Name (e.g. "groq").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithVisionModel sets the model used for image analysis.
func WithVisionModel(model string) Option {
	return func(p *Provider) { p.visionModel = model }
}

func NewProvider(cfg config.EndpointConfig, timeout time.Duration, opts ...Option) *Provider {
	client := llm.NewClient(cfg.BaseURL, timeout)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	p := &Provider{
		name:        "openai",
		model:       cfg.Model,
		visionModel: cfg.Model,
		client:      client,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []contentPart for multimodal turns
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, req models.HypothesisRequest) (models.Hypothesis, error) {
	body := p.textRequest(req, false)

	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return models.Hypothesis{}, fmt.Errorf("%s generate: %w", p.name, llm.ClassifyError(err))
	}
	if err := llm.CheckStatus(resp, resp.Body()); err != nil {
		return models.Hypothesis{}, fmt.Errorf("%s generate: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return models.Hypothesis{}, fmt.Errorf("%s generate: %w: no choices in response", p.name, llm.ErrInvalidResponse)
	}

	return models.Hypothesis{
		Content:    strings.TrimSpace(out.Choices[0].Message.Content),
		Confidence: llm.Confidence(req),
	}, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req models.HypothesisRequest, onToken models.TokenFunc) error {
	if err := p.stream(ctx, p.textRequest(req, true), onToken); err != nil {
		return fmt.Errorf("%s stream: %w", p.name, err)
	}
	return nil
}

func (p *Provider) AnalyzeImagesStream(ctx context.Context, req models.VisionRequest, onToken models.TokenFunc) error {
	parts := make([]contentPart, 0, len(req.ImageURLs)+1)
	parts = append(parts, contentPart{Type: "text", Text: llm.VisionPrompt(req)})
	for _, u := range req.ImageURLs {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u, Detail: "auto"}})
	}

	body := chatRequest{
		Model: p.visionModel,
		Messages: []chatMessage{
			{Role: "system", Content: llm.VisionSystemPrompt},
			{Role: "user", Content: parts},
		},
		MaxTokens: visionMaxTokens,
		Stream:    true,
	}
	if err := p.stream(ctx, body, onToken); err != nil {
		return fmt.Errorf("%s vision stream: %w", p.name, err)
	}
	return nil
}

func (p *Provider) textRequest(req models.HypothesisRequest, stream bool) chatRequest {
	return chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.ForensicSystemPrompt},
			{Role: "user", Content: llm.HypothesisPrompt(req)},
		},
		MaxTokens: textMaxTokens,
		Stream:    stream,
	}
}

func (p *Provider) stream(ctx context.Context, body chatRequest, onToken models.TokenFunc) error {
	r := p.client.R().SetBody(body).SetHeader("Accept", "text/event-stream")
	return llm.PostStream(ctx, r, "/chat/completions", func(rd io.Reader) error {
		return llm.ReadSSE(rd, func(data []byte) (bool, error) {
			var chunk streamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return false, fmt.Errorf("%w: decode chunk: %v", llm.ErrInvalidResponse, err)
			}
			if chunk.Error != nil {
				return false, fmt.Errorf("%w: %s", llm.ErrProviderUnavailable, chunk.Error.Message)
			}
			if len(chunk.Choices) == 0 {
				return false, nil
			}
			if tok := chunk.Choices[0].Delta.Content; tok != "" {
				onToken(tok)
			}
			return false, nil
		})
	})
}
