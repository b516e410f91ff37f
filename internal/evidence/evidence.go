// Package evidence turns per-image detection and OCR output into the flat
// evidence block handed to hypothesis generation.
package evidence

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Level is a coarse confidence bucket shown to the language model.
type Level string

const (
	High   Level = "HIGH"
	Medium Level = "MEDIUM"
	Low    Level = "LOW"
)

const (
	highThreshold   = 0.8
	mediumThreshold = 0.5

	// DefaultTextConfidence stands in for OCR results that carry no confidence.
	DefaultTextConfidence = 0.7
)

const (
	NoObjects = "No objects detected"
	NoText    = "No text extracted"
)

// Bucket maps a confidence in [0,1] to its Level. Bucketing is a read-time
// projection and is never persisted.
func Bucket(confidence float64) Level {
	switch {
	case confidence >= highThreshold:
		return High
	case confidence >= mediumThreshold:
		return Medium
	default:
		return Low
	}
}

// Tag renders the bracketed bucket prefix, e.g. "[HIGH]".
func (l Level) Tag() string {
	return "[" + string(l) + "]"
}

// TextConfidence resolves an optional OCR confidence.
func TextConfidence(c *float64) float64 {
	if c == nil {
		return DefaultTextConfidence
	}
	return *c
}

// FormatObjects renders objects as a comma-joined list of "[BUCKET] label" tokens.
func FormatObjects(objects []models.ObjectEvidence) string {
	if len(objects) == 0 {
		return NoObjects
	}
	tokens := make([]string, 0, len(objects))
	for _, o := range objects {
		tokens = append(tokens, Bucket(o.Confidence).Tag()+" "+o.Label)
	}
	return strings.Join(tokens, ", ")
}

// FormatTexts renders texts as a comma-joined list of `[BUCKET] "text"` tokens.
func FormatTexts(texts []models.TextEvidence) string {
	if len(texts) == 0 {
		return NoText
	}
	tokens := make([]string, 0, len(texts))
	for _, t := range texts {
		tokens = append(tokens, Bucket(TextConfidence(t.Confidence)).Tag()+` "`+t.Text+`"`)
	}
	return strings.Join(tokens, ", ")
}

// Render produces the evidence block used in hypothesis prompts.
func Render(objects []models.ObjectEvidence, texts []models.TextEvidence) string {
	return fmt.Sprintf("Evidence from the scene:\nObjects detected: %s\nText found: %s",
		FormatObjects(objects), FormatTexts(texts))
}

// MeanConfidence averages every evidence confidence, or returns 0 with no evidence.
func MeanConfidence(objects []models.ObjectEvidence, texts []models.TextEvidence) float64 {
	n := len(objects) + len(texts)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, o := range objects {
		sum += o.Confidence
	}
	for _, t := range texts {
		sum += TextConfidence(t.Confidence)
	}
	return sum / float64(n)
}

// Collector accumulates evidence across the images of one run. It is owned by a
// single run and is not safe for concurrent use.
type Collector struct {
	objects []models.ObjectEvidence
	texts   []models.TextEvidence
}

func (c *Collector) AddDetections(dets []models.Detection) {
	for _, d := range dets {
		c.objects = append(c.objects, models.ObjectEvidence{Label: d.Label, Confidence: d.Confidence})
	}
}

func (c *Collector) AddTexts(regions []models.TextRegion) {
	for _, r := range regions {
		c.texts = append(c.texts, models.TextEvidence{Text: r.Text, Confidence: r.Confidence})
	}
}

func (c *Collector) Objects() []models.ObjectEvidence { return c.objects }
func (c *Collector) Texts() []models.TextEvidence     { return c.texts }
