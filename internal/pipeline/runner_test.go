package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/ai/mock"
	"github.com/kiranshivaraju/casefile/internal/pipeline"
	storemock "github.com/kiranshivaraju/casefile/internal/store/mock"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(st *storemock.MockStore, mutate func(*pipeline.Deps)) *pipeline.Runner {
	deps := pipeline.Deps{
		Store:      st,
		Detector:   fixedDetector("knife", "glove"),
		Extractor:  fixedExtractor("EXIT", "B-12"),
		Resolver:   presignedResolver(),
		Hypothesis: mock.NewMockProvider(),
		Vision:     mock.NewMockProvider(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return pipeline.NewRunner(deps)
}

func TestRunner_BasicTwoImages(t *testing.T) {
	st := storemock.NewMockStore()
	convID, imgs := st.Seed(2)
	r := newTestRunner(st, nil)

	sink := &recordingSink{}
	out, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID, Variant: pipeline.VariantBasic}, sink)
	require.NoError(t, err)

	assert.Equal(t, pipeline.VariantBasic, out.Variant)
	assert.Equal(t, 4, out.ObjectsDetected)
	assert.Equal(t, 4, out.TextsExtracted)
	require.Len(t, out.Images, 2)
	assert.Equal(t, imgs[0].ID, out.Images[0].ImageID)
	assert.Len(t, out.Images[1].DetectedObjects, 2)
	assert.Len(t, out.Images[1].ExtractedTexts, 2)

	assert.Equal(t, 1, sink.started)
	assert.Equal(t, 2, sink.total)
	assert.Equal(t, []string{
		"detection:1/2", "ocr:1/2",
		"detection:2/2", "ocr:2/2",
		"nlp:0/0",
	}, sink.progress)

	for _, img := range imgs {
		assert.Equal(t, []models.ImageStatus{models.ImageStatusProcessing, models.ImageStatusCompleted}, st.StatusHistory(img.ID))
	}

	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, out.MessageID, msgs[0].ID)
	assert.Equal(t, strings.TrimSpace(strings.Join(mock.DefaultTokens, "")), out.Hypothesis)
}

func TestRunner_BasicGeneratesOnceOverAllEvidence(t *testing.T) {
	st := storemock.NewMockStore()
	convID, _ := st.Seed(3)

	var got []models.HypothesisRequest
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(_ context.Context, req models.HypothesisRequest) (models.Hypothesis, error) {
		got = append(got, req)
		return models.Hypothesis{Content: "  three images reviewed \n"}, nil
	}
	r := newTestRunner(st, func(d *pipeline.Deps) { d.Hypothesis = provider })

	out, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID, Context: "back door forced"}, nil)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Len(t, got[0].Objects, 6)
	assert.Len(t, got[0].Texts, 6)
	assert.Equal(t, "back door forced", got[0].Context)
	assert.Equal(t, "three images reviewed", out.Hypothesis)
}

func TestRunner_StreamsToTextSink(t *testing.T) {
	st := storemock.NewMockStore()
	convID, _ := st.Seed(1)

	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(context.Context, models.HypothesisRequest) (models.Hypothesis, error) {
		t.Fatal("Generate must not be called when the sink accepts text")
		return models.Hypothesis{}, nil
	}
	r := newTestRunner(st, func(d *pipeline.Deps) { d.Hypothesis = provider })

	sink := &textRecordingSink{}
	out, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID}, sink)
	require.NoError(t, err)

	assert.Equal(t, mock.DefaultTokens, sink.tokens)
	assert.Equal(t, strings.TrimSpace(strings.Join(sink.tokens, "")), out.Hypothesis)
}

func TestRunner_UnknownConversation(t *testing.T) {
	st := storemock.NewMockStore()
	r := newTestRunner(st, nil)
	sink := &recordingSink{}

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: uuid.New()}, sink)
	require.Error(t, err)

	var pe *pipeline.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, pipeline.KindNotFound, pe.Kind)
	assert.Equal(t, pipeline.MsgConversationNotFound, err.Error())
	assert.Zero(t, sink.started)
}

func TestRunner_NoImages(t *testing.T) {
	st := storemock.NewMockStore()
	convID, _ := st.Seed(0)
	r := newTestRunner(st, nil)
	sink := &recordingSink{}

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID}, sink)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
	assert.Equal(t, pipeline.MsgNoImages, err.Error())
	assert.Zero(t, sink.started)
}

func TestRunner_DetectionFailureAbortsRun(t *testing.T) {
	st := storemock.NewMockStore()
	convID, imgs := st.Seed(2)

	calls := 0
	detector := detectorFunc(func(ctx context.Context, url string) ([]models.Detection, error) {
		calls++
		if calls == 2 {
			return nil, errUpstream
		}
		return fixedDetector("knife")(ctx, url)
	})
	generated := false
	provider := mock.NewMockProvider()
	provider.GenerateFunc = func(context.Context, models.HypothesisRequest) (models.Hypothesis, error) {
		generated = true
		return models.Hypothesis{}, nil
	}
	r := newTestRunner(st, func(d *pipeline.Deps) {
		d.Detector = detector
		d.Hypothesis = provider
	})

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindUpstreamFailure, pipeline.KindOf(err))
	assert.ErrorIs(t, err, errUpstream)
	assert.Contains(t, err.Error(), "object detection failed")

	assert.Equal(t, []models.ImageStatus{models.ImageStatusProcessing, models.ImageStatusCompleted}, st.StatusHistory(imgs[0].ID))
	assert.Equal(t, []models.ImageStatus{models.ImageStatusProcessing, models.ImageStatusFailed}, st.StatusHistory(imgs[1].ID))
	assert.False(t, generated)
	assert.Empty(t, st.Messages())
}

func TestRunner_PersistenceFailureIsStorageFailure(t *testing.T) {
	st := storemock.NewMockStore()
	convID, _ := st.Seed(1)
	st.SaveDetectionsErr = errors.New("disk full")
	r := newTestRunner(st, nil)

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindStorageFailure, pipeline.KindOf(err))
	assert.Empty(t, st.Messages())
}

func TestRunner_GenerationFailure(t *testing.T) {
	st := storemock.NewMockStore()
	convID, imgs := st.Seed(1)
	r := newTestRunner(st, func(d *pipeline.Deps) { d.Hypothesis = mock.NewFailingProvider(errUpstream) })

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindUpstreamFailure, pipeline.KindOf(err))
	assert.Empty(t, st.Messages())
	// Evidence was committed per image before generation started.
	assert.Equal(t, []models.ImageStatus{models.ImageStatusProcessing, models.ImageStatusCompleted}, st.StatusHistory(imgs[0].ID))
}

func TestRunner_Premium(t *testing.T) {
	st := storemock.NewMockStore()
	convID, imgs := st.Seed(2)

	var got models.VisionRequest
	vision := mock.NewMockProvider()
	base := vision.AnalyzeImagesStreamFunc
	vision.AnalyzeImagesStreamFunc = func(ctx context.Context, req models.VisionRequest, onToken models.TokenFunc) error {
		got = req
		return base(ctx, req, onToken)
	}
	r := newTestRunner(st, func(d *pipeline.Deps) {
		d.Vision = vision
		d.Detector = failingDetector(errors.New("detector must not run"))
	})

	sink := &recordingSink{}
	out, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID, Context: "night", Variant: pipeline.VariantPremium}, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://bucket.example/cases/1.jpg?sig=x",
		"https://bucket.example/cases/2.jpg?sig=x",
	}, got.ImageURLs)
	assert.Equal(t, "night", got.Context)
	assert.Equal(t, []string{"processing:1/2", "processing:2/2", "nlp:0/0"}, sink.progress)

	assert.Equal(t, pipeline.VariantPremium, out.Variant)
	assert.Zero(t, out.ObjectsDetected)
	assert.Zero(t, out.TextsExtracted)
	assert.Empty(t, out.Images)
	assert.Equal(t, strings.TrimSpace(strings.Join(mock.DefaultTokens, "")), out.Hypothesis)

	for _, img := range imgs {
		assert.Equal(t, []models.ImageStatus{models.ImageStatusProcessing, models.ImageStatusCompleted}, st.StatusHistory(img.ID))
	}
	require.Len(t, st.Messages(), 1)
}

func TestRunner_PremiumStatusWriteFailureFailsAllImages(t *testing.T) {
	tests := []struct {
		name    string
		failOn  func(imgs []*models.Image) func(uuid.UUID, models.ImageStatus) error
		history [][]models.ImageStatus
	}{
		{
			name: "processing write on second image",
			failOn: func(imgs []*models.Image) func(uuid.UUID, models.ImageStatus) error {
				return func(id uuid.UUID, s models.ImageStatus) error {
					if id == imgs[1].ID && s == models.ImageStatusProcessing {
						return errors.New("connection reset")
					}
					return nil
				}
			},
			history: [][]models.ImageStatus{
				{models.ImageStatusProcessing, models.ImageStatusFailed},
				{models.ImageStatusFailed},
			},
		},
		{
			name: "completed write",
			failOn: func([]*models.Image) func(uuid.UUID, models.ImageStatus) error {
				return func(_ uuid.UUID, s models.ImageStatus) error {
					if s == models.ImageStatusCompleted {
						return errors.New("connection reset")
					}
					return nil
				}
			},
			history: [][]models.ImageStatus{
				{models.ImageStatusProcessing, models.ImageStatusFailed},
				{models.ImageStatusProcessing, models.ImageStatusFailed},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storemock.NewMockStore()
			convID, imgs := st.Seed(2)
			st.ImageStatusErr = tt.failOn(imgs)
			r := newTestRunner(st, nil)

			_, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID, Variant: pipeline.VariantPremium}, nil)
			require.Error(t, err)
			assert.Equal(t, pipeline.KindStorageFailure, pipeline.KindOf(err))

			for i, img := range imgs {
				assert.Equal(t, tt.history[i], st.StatusHistory(img.ID), "image %d", i+1)
			}
			assert.Empty(t, st.Messages())
		})
	}
}

func TestRunner_PremiumWithoutVisionProvider(t *testing.T) {
	st := storemock.NewMockStore()
	convID, _ := st.Seed(1)
	r := newTestRunner(st, func(d *pipeline.Deps) { d.Vision = nil })

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: convID, Variant: pipeline.VariantPremium}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInvalidInput, pipeline.KindOf(err))
}

func TestRunner_CanceledBeforeGeneration(t *testing.T) {
	st := storemock.NewMockStore()
	convID, imgs := st.Seed(2)

	ctx, cancel := context.WithCancel(context.Background())
	detector := detectorFunc(func(context.Context, string) ([]models.Detection, error) {
		cancel()
		return nil, nil
	})
	r := newTestRunner(st, func(d *pipeline.Deps) { d.Detector = detector })

	_, err := r.Run(ctx, pipeline.Request{ConversationID: convID}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindCanceled, pipeline.KindOf(err))
	assert.Empty(t, st.StatusHistory(imgs[1].ID))
	assert.Empty(t, st.Messages())
}

func TestRunner_ReleasesSessions(t *testing.T) {
	st := storemock.NewMockStore()
	convID, _ := st.Seed(1)
	r := newTestRunner(st, nil)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Run(context.Background(), pipeline.Request{ConversationID: convID}, nil)
		}()
	}
	wg.Wait()
	require.NoError(t, r.Validate(context.Background(), convID))

	opened, released := st.Sessions()
	assert.Equal(t, 6, opened)
	assert.Equal(t, opened, released)
	assert.Len(t, st.Messages(), 5)
}

func TestRunner_SessionFailure(t *testing.T) {
	st := storemock.NewMockStore()
	st.SessionErr = errors.New("pool exhausted")
	r := newTestRunner(st, nil)

	_, err := r.Run(context.Background(), pipeline.Request{ConversationID: uuid.New()}, nil)
	assert.Equal(t, pipeline.KindStorageFailure, pipeline.KindOf(err))
}

func TestVariantFor(t *testing.T) {
	yes, no := true, false
	assert.Equal(t, pipeline.VariantBasic, pipeline.VariantFor(nil))
	assert.Equal(t, pipeline.VariantBasic, pipeline.VariantFor(&yes))
	assert.Equal(t, pipeline.VariantPremium, pipeline.VariantFor(&no))
}
