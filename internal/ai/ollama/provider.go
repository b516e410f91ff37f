// Package ollama implements a hypothesis provider backed by a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/casefile/internal/ai/llm"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Provider implements models.HypothesisProvider using Ollama's /api/chat.
type Provider struct {
	model  string
	client *resty.Client
}

var _ models.HypothesisProvider = (*Provider)(nil)

func NewProvider(cfg config.EndpointConfig, timeout time.Duration) *Provider {
	return &Provider{
		model:  cfg.Model,
		client: llm.NewClient(cfg.BaseURL, timeout),
	}
}

func (p *Provider) Name() string { return "ollama" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is both the non-streamed body and one NDJSON line of a stream.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, req models.HypothesisRequest) (models.Hypothesis, error) {
	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(p.request(req, false)).
		SetResult(&out).
		Post("/api/chat")
	if err != nil {
		return models.Hypothesis{}, fmt.Errorf("ollama generate: %w", llm.ClassifyError(err))
	}
	if err := llm.CheckStatus(resp, resp.Body()); err != nil {
		return models.Hypothesis{}, fmt.Errorf("ollama generate: %w", err)
	}
	if out.Error != "" {
		return models.Hypothesis{}, fmt.Errorf("ollama generate: %w: %s", llm.ErrInvalidResponse, out.Error)
	}

	return models.Hypothesis{
		Content:    strings.TrimSpace(out.Message.Content),
		Confidence: llm.Confidence(req),
	}, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req models.HypothesisRequest, onToken models.TokenFunc) error {
	r := p.client.R().SetBody(p.request(req, true))
	err := llm.PostStream(ctx, r, "/api/chat", func(rd io.Reader) error {
		return llm.ReadNDJSON(rd, func(line chatResponse) (bool, error) {
			if line.Error != "" {
				return false, fmt.Errorf("%w: %s", llm.ErrProviderUnavailable, line.Error)
			}
			if line.Message.Content != "" {
				onToken(line.Message.Content)
			}
			return line.Done, nil
		})
	})
	if err != nil {
		return fmt.Errorf("ollama stream: %w", err)
	}
	return nil
}

func (p *Provider) request(req models.HypothesisRequest, stream bool) chatRequest {
	return chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.ForensicSystemPrompt},
			{Role: "user", Content: llm.HypothesisPrompt(req)},
		},
		Stream: stream,
	}
}
