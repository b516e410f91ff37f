// Package anthropic implements hypothesis and vision providers on the Messages API.
package anthropic

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
	apiVersion      = "2023-06-01"
	textMaxTokens   = 400
	visionMaxTokens = 600
)

// Provider implements models.HypothesisProvider and models.VisionProvider.
type Provider struct {
	model  string
	client *resty.Client
}

var (
	_ models.HypothesisProvider = (*Provider)(nil)
	_ models.VisionProvider     = (*Provider)(nil)
)

func NewProvider(cfg config.EndpointConfig, timeout time.Duration) *Provider {
	client := llm.NewClient(cfg.BaseURL, timeout).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion)
	return &Provider{model: cfg.Model, client: client}
}

func (p *Provider) Name() string { return "anthropic" }

type messagesRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type messagesResponse struct {
	Content []block `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, req models.HypothesisRequest) (models.Hypothesis, error) {
	var out messagesResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(p.textRequest(req, false)).
		SetResult(&out).
		Post("/v1/messages")
	if err != nil {
		return models.Hypothesis{}, fmt.Errorf("anthropic generate: %w", llm.ClassifyError(err))
	}
	if err := llm.CheckStatus(resp, resp.Body()); err != nil {
		return models.Hypothesis{}, fmt.Errorf("anthropic generate: %w", err)
	}

	var b strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return models.Hypothesis{}, fmt.Errorf("anthropic generate: %w: no text content", llm.ErrInvalidResponse)
	}

	return models.Hypothesis{
		Content:    strings.TrimSpace(b.String()),
		Confidence: llm.Confidence(req),
	}, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req models.HypothesisRequest, onToken models.TokenFunc) error {
	if err := p.stream(ctx, p.textRequest(req, true), onToken); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}

func (p *Provider) AnalyzeImagesStream(ctx context.Context, req models.VisionRequest, onToken models.TokenFunc) error {
	blocks := make([]block, 0, len(req.ImageURLs)+1)
	for _, u := range req.ImageURLs {
		blocks = append(blocks, block{Type: "image", Source: &imageSource{Type: "url", URL: u}})
	}
	blocks = append(blocks, block{Type: "text", Text: llm.VisionPrompt(req)})

	body := messagesRequest{
		Model:     p.model,
		System:    llm.VisionSystemPrompt,
		Messages:  []message{{Role: "user", Content: blocks}},
		MaxTokens: visionMaxTokens,
		Stream:    true,
	}
	if err := p.stream(ctx, body, onToken); err != nil {
		return fmt.Errorf("anthropic vision stream: %w", err)
	}
	return nil
}

func (p *Provider) textRequest(req models.HypothesisRequest, stream bool) messagesRequest {
	return messagesRequest{
		Model:  p.model,
		System: llm.ForensicSystemPrompt,
		Messages: []message{{
			Role:    "user",
			Content: []block{{Type: "text", Text: llm.HypothesisPrompt(req)}},
		}},
		MaxTokens: textMaxTokens,
		Stream:    stream,
	}
}

func (p *Provider) stream(ctx context.Context, body messagesRequest, onToken models.TokenFunc) error {
	r := p.client.R().SetBody(body).SetHeader("Accept", "text/event-stream")
	return llm.PostStream(ctx, r, "/v1/messages", func(rd io.Reader) error {
		return llm.ReadSSE(rd, func(data []byte) (bool, error) {
			var ev streamEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return false, fmt.Errorf("%w: decode event: %v", llm.ErrInvalidResponse, err)
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					onToken(ev.Delta.Text)
				}
			case "error":
				msg := "stream error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				return false, fmt.Errorf("%w: %s", llm.ErrProviderUnavailable, msg)
			case "message_stop":
				return true, nil
			}
			return false, nil
		})
	})
}
