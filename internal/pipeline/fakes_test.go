package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/casefile/internal/pipeline"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

type detectorFunc func(ctx context.Context, url string) ([]models.Detection, error)

func (f detectorFunc) Detect(ctx context.Context, url string) ([]models.Detection, error) {
	return f(ctx, url)
}

type extractorFunc func(ctx context.Context, url string) ([]models.TextRegion, error)

func (f extractorFunc) ExtractText(ctx context.Context, url string) ([]models.TextRegion, error) {
	return f(ctx, url)
}

type resolverFunc func(ctx context.Context, ref string) (string, error)

func (f resolverFunc) ResolveURL(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

func presignedResolver() resolverFunc {
	return func(_ context.Context, ref string) (string, error) {
		return "https://bucket.example/" + ref + "?sig=x", nil
	}
}

func fixedDetector(labels ...string) detectorFunc {
	return func(context.Context, string) ([]models.Detection, error) {
		out := make([]models.Detection, 0, len(labels))
		for _, l := range labels {
			out = append(out, models.Detection{Label: l, Confidence: 0.9, BBox: models.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}})
		}
		return out, nil
	}
}

func fixedExtractor(texts ...string) extractorFunc {
	return func(context.Context, string) ([]models.TextRegion, error) {
		out := make([]models.TextRegion, 0, len(texts))
		for _, t := range texts {
			out = append(out, models.TextRegion{Text: t})
		}
		return out, nil
	}
}

func failingDetector(err error) detectorFunc {
	return func(context.Context, string) ([]models.Detection, error) { return nil, err }
}

var errUpstream = errors.New("connection refused")

// recordingSink captures notifications. It is not a TextSink.
type recordingSink struct {
	total    int
	started  int
	progress []string
}

func (r *recordingSink) Start(total int) {
	r.started++
	r.total = total
}

func (r *recordingSink) Progress(p pipeline.Progress) {
	r.progress = append(r.progress, fmt.Sprintf("%s:%d/%d", p.Step, p.Image, p.TotalImages))
}

type textRecordingSink struct {
	recordingSink
	tokens []string
}

func (t *textRecordingSink) Text(token string) { t.tokens = append(t.tokens, token) }

type event struct {
	name string
	data map[string]any
}

// recordingWriter is an EventWriter. failAfter > 0 makes every write past
// that count fail.
type recordingWriter struct {
	mu        sync.Mutex
	events    []event
	failAfter int
	attempts  int
}

func (w *recordingWriter) WriteEvent(name string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failAfter > 0 && w.attempts > w.failAfter {
		return errors.New("broken pipe")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	w.events = append(w.events, event{name: name, data: data})
	return nil
}

func (w *recordingWriter) all() []event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]event(nil), w.events...)
}

func (w *recordingWriter) names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.events))
	for _, e := range w.events {
		out = append(out, e.name)
	}
	return out
}
