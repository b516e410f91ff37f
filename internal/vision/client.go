// Package vision talks to the object detection and OCR services. Both take a
// fetchable image URL and return per-image evidence.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Sentinel errors for vision service failures.
var (
	ErrUnreachable = errors.New("vision service unreachable")
	ErrBadResponse = errors.New("vision service bad response")
	ErrTimeout     = errors.New("vision service timeout")
)

// Detector finds labelled objects in an image.
type Detector interface {
	Detect(ctx context.Context, imageURL string) ([]models.Detection, error)
}

// TextExtractor finds text regions in an image.
type TextExtractor interface {
	ExtractText(ctx context.Context, imageURL string) ([]models.TextRegion, error)
}

type imageRequest struct {
	ImageURL string `json:"image_url"`
}

type detectResponse struct {
	Detections []models.Detection `json:"detections"`
}

type ocrResponse struct {
	Texts []models.TextRegion `json:"texts"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// HTTPDetector implements Detector against POST {base}/detect.
type HTTPDetector struct {
	client *resty.Client
}

var _ Detector = (*HTTPDetector)(nil)

// NewHTTPDetector creates a detection client.
func NewHTTPDetector(baseURL string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{client: newClient(baseURL, timeout)}
}

func (d *HTTPDetector) Detect(ctx context.Context, imageURL string) ([]models.Detection, error) {
	var out detectResponse
	if err := post(ctx, d.client, "/detect", imageURL, &out); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	for i, det := range out.Detections {
		if det.Label == "" || det.Confidence < 0 || det.Confidence > 1 {
			return nil, fmt.Errorf("detect: %w: detection %d is malformed", ErrBadResponse, i)
		}
	}
	if out.Detections == nil {
		out.Detections = []models.Detection{}
	}
	return out.Detections, nil
}

// HTTPTextExtractor implements TextExtractor against POST {base}/ocr.
type HTTPTextExtractor struct {
	client *resty.Client
}

var _ TextExtractor = (*HTTPTextExtractor)(nil)

// NewHTTPTextExtractor creates an OCR client.
func NewHTTPTextExtractor(baseURL string, timeout time.Duration) *HTTPTextExtractor {
	return &HTTPTextExtractor{client: newClient(baseURL, timeout)}
}

func (e *HTTPTextExtractor) ExtractText(ctx context.Context, imageURL string) ([]models.TextRegion, error) {
	var out ocrResponse
	if err := post(ctx, e.client, "/ocr", imageURL, &out); err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	texts := make([]models.TextRegion, 0, len(out.Texts))
	for _, t := range out.Texts {
		t.Text = strings.TrimSpace(t.Text)
		if t.Text == "" {
			continue
		}
		texts = append(texts, t)
	}
	return texts, nil
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func post(ctx context.Context, client *resty.Client, path, imageURL string, result any) error {
	var apiErr errorResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(imageRequest{ImageURL: imageURL}).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return classifyError(err)
	}

	if resp.StatusCode() != http.StatusOK {
		msg := apiErr.Detail
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode(), msg)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
