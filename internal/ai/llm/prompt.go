package llm

import (
	"strings"

	"github.com/kiranshivaraju/casefile/internal/evidence"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// ForensicSystemPrompt steers text hypothesis generation.
const ForensicSystemPrompt = `You are a forensic analyst. Analyze evidence and provide brief, actionable insights.
Keep responses SHORT (under 150 words). List key findings, then a brief hypothesis.
Be professional and direct. No dramatic narration.`

// VisionSystemPrompt steers multi-image analysis, where the model sees the scene itself.
const VisionSystemPrompt = `You are a forensic analyst examining crime scene photographs.
Describe the relevant objects, visible text and anomalies across all images, then give a brief hypothesis.
Keep responses SHORT (under 200 words). Be professional and direct. No dramatic narration.`

const (
	analyzeInstruction = "Analyze this evidence and provide your initial assessment."
	visionInstruction  = "Analyze these images and provide your initial assessment."
)

// HypothesisPrompt renders the user turn for text-only generation.
func HypothesisPrompt(req models.HypothesisRequest) string {
	var b strings.Builder
	b.WriteString(evidence.Render(req.Objects, req.Texts))
	writeContext(&b, req.Context)
	b.WriteString("\n\n")
	b.WriteString(analyzeInstruction)
	return b.String()
}

// VisionPrompt renders the text part of a multi-image user turn.
func VisionPrompt(req models.VisionRequest) string {
	var b strings.Builder
	b.WriteString(visionInstruction)
	writeContext(&b, req.Context)
	return b.String()
}

func writeContext(b *strings.Builder, ctx string) {
	ctx = strings.TrimSpace(ctx)
	if ctx == "" {
		return
	}
	b.WriteString("\n\nCase notes from the investigator:\n")
	b.WriteString(ctx)
}

// Confidence scores a hypothesis by the evidence it was built on.
func Confidence(req models.HypothesisRequest) float64 {
	return evidence.MeanConfidence(req.Objects, req.Texts)
}
