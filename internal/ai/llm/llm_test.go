package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kiranshivaraju/casefile/internal/ai/llm"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHypothesisPrompt(t *testing.T) {
	got := llm.HypothesisPrompt(models.HypothesisRequest{
		Objects: []models.ObjectEvidence{{Label: "knife", Confidence: 0.95}},
		Context: "  Suspect fled north.  ",
	})

	want := "Evidence from the scene:\n" +
		"Objects detected: [HIGH] knife\n" +
		"Text found: No text extracted\n\n" +
		"Case notes from the investigator:\nSuspect fled north.\n\n" +
		"Analyze this evidence and provide your initial assessment."
	assert.Equal(t, want, got)
}

func TestHypothesisPrompt_NoContext(t *testing.T) {
	got := llm.HypothesisPrompt(models.HypothesisRequest{Context: "   "})
	assert.NotContains(t, got, "Case notes")
	assert.True(t, strings.HasSuffix(got, "No text extracted\n\nAnalyze this evidence and provide your initial assessment."))
}

func TestVisionPrompt(t *testing.T) {
	assert.Equal(t, "Analyze these images and provide your initial assessment.", llm.VisionPrompt(models.VisionRequest{}))
	assert.Contains(t, llm.VisionPrompt(models.VisionRequest{Context: "night"}), "night")
}

func TestReadSSE(t *testing.T) {
	stream := ": comment\n" +
		"event: delta\n" +
		"data: one\n\n" +
		"data:two\n\n" +
		"data: [DONE]\n\n" +
		"data: three\n\n"

	var got []string
	err := llm.ReadSSE(strings.NewReader(stream), func(data []byte) (bool, error) {
		got = append(got, string(data))
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestReadSSE_StopsOnDoneAndError(t *testing.T) {
	stream := "data: a\n\ndata: b\n\n"

	calls := 0
	err := llm.ReadSSE(strings.NewReader(stream), func([]byte) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = llm.ReadSSE(strings.NewReader(stream), func([]byte) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestReadNDJSON(t *testing.T) {
	type line struct {
		N    int  `json:"n"`
		Done bool `json:"done"`
	}
	stream := "{\"n\":1}\n\n{\"n\":2,\"done\":true}\n{\"n\":3}\n"

	var got []int
	err := llm.ReadNDJSON(strings.NewReader(stream), func(v line) (bool, error) {
		got = append(got, v.N)
		return v.Done, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, llm.ClassifyError(context.DeadlineExceeded), llm.ErrInferenceTimeout)
	assert.ErrorIs(t, llm.ClassifyError(context.Canceled), llm.ErrInferenceTimeout)
	assert.ErrorIs(t, llm.ClassifyError(errors.New("connection reset")), llm.ErrProviderUnavailable)
}
