// Package pipeline runs evidence analysis over the images of a conversation and
// delivers it either as a live event stream, a pollable job or a single response.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/evidence"
	"github.com/kiranshivaraju/casefile/internal/metrics"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/internal/vision"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Variant selects which stages a run executes.
type Variant string

const (
	// VariantBasic runs detection and OCR per image, then one text-only generation.
	VariantBasic Variant = "basic"
	// VariantPremium skips detection and OCR and sends every image to a vision model.
	VariantPremium Variant = "premium"
)

// VariantFor maps the API's use_basic_pipeline flag. An absent flag means basic.
func VariantFor(useBasic *bool) Variant {
	if useBasic == nil || *useBasic {
		return VariantBasic
	}
	return VariantPremium
}

// Request is one analysis invocation.
type Request struct {
	ConversationID uuid.UUID
	Context        string
	Variant        Variant
}

// ImageResult holds the rows persisted for one image during a basic run.
type ImageResult struct {
	ImageID         uuid.UUID                `json:"image_id"`
	DetectedObjects []*models.DetectedObject `json:"detected_objects"`
	ExtractedTexts  []*models.ExtractedText  `json:"extracted_texts"`
}

// Outcome is the normalized result of a completed run. Premium runs report
// zero counts and no per-image rows.
type Outcome struct {
	Variant         Variant
	MessageID       uuid.UUID
	Hypothesis      string
	ObjectsDetected int
	TextsExtracted  int
	Images          []ImageResult
}

// JobResult projects the outcome onto the job record.
func (o *Outcome) JobResult() models.JobResult {
	return models.JobResult{
		MessageID:       o.MessageID,
		Hypothesis:      o.Hypothesis,
		ObjectsDetected: o.ObjectsDetected,
		TextsExtracted:  o.TextsExtracted,
	}
}

// URLResolver turns an image's storage reference into a URL the model services can fetch.
type URLResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// Deps are the collaborators a Runner calls. Vision may be nil, in which case
// premium runs are rejected.
type Deps struct {
	Store      store.Store
	Detector   vision.Detector
	Extractor  vision.TextExtractor
	Resolver   URLResolver
	Hypothesis models.HypothesisProvider
	Vision     models.VisionProvider
	Metrics    *metrics.Metrics
}

// Runner executes analysis runs. It holds no per-run state and is safe for
// concurrent use; each run opens and releases its own store session.
type Runner struct {
	store      store.Store
	detector   vision.Detector
	extractor  vision.TextExtractor
	resolver   URLResolver
	hypothesis models.HypothesisProvider
	vision     models.VisionProvider
	metrics    *metrics.Metrics
}

func NewRunner(d Deps) *Runner {
	return &Runner{
		store:      d.Store,
		detector:   d.Detector,
		extractor:  d.Extractor,
		resolver:   d.Resolver,
		hypothesis: d.Hypothesis,
		vision:     d.Vision,
		metrics:    d.Metrics,
	}
}

// run is the per-invocation state. It lives on one goroutine only.
type run struct {
	req     Request
	sess    store.Session
	sink    Sink
	images  []*models.Image
	collect evidence.Collector
	results []ImageResult
}

// Validate checks that the conversation exists and has images without running anything.
func (r *Runner) Validate(ctx context.Context, conversationID uuid.UUID) error {
	sess, err := r.store.Session(ctx)
	if err != nil {
		return storageFailure("opening store session", err)
	}
	defer sess.Release()

	_, err = r.loadImages(ctx, sess, conversationID)
	return err
}

// Run executes every stage of req's variant in order, reporting to sink, and
// returns the outcome or an *Error. Stages never run in parallel and none is
// retried; the first failure ends the run.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (*Outcome, error) {
	if sink == nil {
		sink = discardSink{}
	}
	if req.Variant == "" {
		req.Variant = VariantBasic
	}
	if req.Variant == VariantPremium && r.vision == nil {
		return nil, invalidInput("Premium pipeline is not configured")
	}

	sess, err := r.store.Session(ctx)
	if err != nil {
		return nil, stageErr(ctx, storageFailure, "opening store session", err)
	}
	defer sess.Release()

	images, err := r.loadImages(ctx, sess, req.ConversationID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := slog.With("conversation_id", req.ConversationID, "variant", req.Variant)
	log.Info("pipeline run started", "images", len(images))

	rn := &run{req: req, sess: sess, sink: sink, images: images}
	sink.Start(len(images))

	var out *Outcome
	switch req.Variant {
	case VariantPremium:
		out, err = r.runPremium(ctx, rn)
	default:
		out, err = r.runBasic(ctx, rn)
	}
	if err != nil {
		log.Warn("pipeline run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	out.Variant = req.Variant

	log.Info("pipeline run completed",
		"message_id", out.MessageID,
		"objects", out.ObjectsDetected,
		"texts", out.TextsExtracted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (r *Runner) loadImages(ctx context.Context, sess store.Session, conversationID uuid.UUID) ([]*models.Image, error) {
	if _, err := sess.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(MsgConversationNotFound)
		}
		return nil, stageErr(ctx, storageFailure, "loading conversation", err)
	}

	images, err := sess.ListImages(ctx, conversationID)
	if err != nil {
		return nil, stageErr(ctx, storageFailure, "listing images", err)
	}
	if len(images) == 0 {
		return nil, invalidInput(MsgNoImages)
	}
	return images, nil
}

func (r *Runner) runBasic(ctx context.Context, rn *run) (*Outcome, error) {
	total := len(rn.images)
	for i, img := range rn.images {
		if err := checkCanceled(ctx); err != nil {
			return nil, err
		}
		if err := r.basicImage(ctx, rn, i+1, total, img); err != nil {
			r.markImage(ctx, rn.sess, img.ID, models.ImageStatusFailed)
			return nil, err
		}
	}

	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	rn.sink.Progress(Progress{Step: StepNLP, Status: "generating hypothesis"})
	hreq := models.HypothesisRequest{
		Objects: rn.collect.Objects(),
		Texts:   rn.collect.Texts(),
		Context: rn.req.Context,
	}

	var hypothesis string
	err := r.timed("generation", func() error {
		if ts, ok := rn.sink.(TextSink); ok {
			var b strings.Builder
			err := r.hypothesis.GenerateStream(ctx, hreq, func(token string) {
				b.WriteString(token)
				ts.Text(token)
			})
			hypothesis = b.String()
			return err
		}
		h, err := r.hypothesis.Generate(ctx, hreq)
		hypothesis = h.Content
		return err
	})
	if err != nil {
		return nil, stageErr(ctx, upstream, "hypothesis generation failed", err)
	}

	msg, err := r.saveHypothesis(ctx, rn, hypothesis)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		MessageID:       msg.ID,
		Hypothesis:      msg.Content,
		ObjectsDetected: len(hreq.Objects),
		TextsExtracted:  len(hreq.Texts),
		Images:          rn.results,
	}, nil
}

func (r *Runner) basicImage(ctx context.Context, rn *run, idx, total int, img *models.Image) error {
	url, err := r.resolver.ResolveURL(ctx, img.StorageKey)
	if err != nil {
		return stageErr(ctx, storageFailure, "resolving image url", err)
	}
	if err := rn.sess.SetImageStatus(ctx, img.ID, models.ImageStatusProcessing); err != nil {
		return stageErr(ctx, storageFailure, "updating image status", err)
	}

	rn.sink.Progress(Progress{Step: StepDetection, Image: idx, TotalImages: total})
	var dets []models.Detection
	if err := r.timed(StepDetection, func() (err error) {
		dets, err = r.detector.Detect(ctx, url)
		return err
	}); err != nil {
		return stageErr(ctx, upstream, "object detection failed", err)
	}
	objects, err := rn.sess.SaveDetections(ctx, img.ID, dets)
	if err != nil {
		return stageErr(ctx, storageFailure, "saving detections", err)
	}
	rn.collect.AddDetections(dets)

	rn.sink.Progress(Progress{Step: StepOCR, Image: idx, TotalImages: total})
	var regions []models.TextRegion
	if err := r.timed(StepOCR, func() (err error) {
		regions, err = r.extractor.ExtractText(ctx, url)
		return err
	}); err != nil {
		return stageErr(ctx, upstream, "text extraction failed", err)
	}
	texts, err := rn.sess.SaveTexts(ctx, img.ID, regions)
	if err != nil {
		return stageErr(ctx, storageFailure, "saving extracted text", err)
	}
	rn.collect.AddTexts(regions)

	if err := rn.sess.SetImageStatus(ctx, img.ID, models.ImageStatusCompleted); err != nil {
		return stageErr(ctx, storageFailure, "updating image status", err)
	}
	rn.results = append(rn.results, ImageResult{ImageID: img.ID, DetectedObjects: objects, ExtractedTexts: texts})
	return nil
}

func (r *Runner) runPremium(ctx context.Context, rn *run) (*Outcome, error) {
	total := len(rn.images)
	urls := make([]string, 0, total)
	for i, img := range rn.images {
		if err := checkCanceled(ctx); err != nil {
			return nil, err
		}
		url, err := r.resolver.ResolveURL(ctx, img.StorageKey)
		if err != nil {
			r.markAll(ctx, rn, models.ImageStatusFailed)
			return nil, stageErr(ctx, storageFailure, "resolving image url", err)
		}
		urls = append(urls, url)
		if err := rn.sess.SetImageStatus(ctx, img.ID, models.ImageStatusProcessing); err != nil {
			r.markAll(ctx, rn, models.ImageStatusFailed)
			return nil, stageErr(ctx, storageFailure, "updating image status", err)
		}
		rn.sink.Progress(Progress{Step: StepProcessing, Image: i + 1, TotalImages: total})
	}

	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	rn.sink.Progress(Progress{Step: StepNLP, Status: "analyzing images"})
	ts, streaming := rn.sink.(TextSink)
	var b strings.Builder
	err := r.timed("vision", func() error {
		return r.vision.AnalyzeImagesStream(ctx, models.VisionRequest{ImageURLs: urls, Context: rn.req.Context},
			func(token string) {
				b.WriteString(token)
				if streaming {
					ts.Text(token)
				}
			})
	})
	if err != nil {
		r.markAll(ctx, rn, models.ImageStatusFailed)
		return nil, stageErr(ctx, upstream, "vision analysis failed", err)
	}

	for _, img := range rn.images {
		if err := rn.sess.SetImageStatus(ctx, img.ID, models.ImageStatusCompleted); err != nil {
			r.markAll(ctx, rn, models.ImageStatusFailed)
			return nil, stageErr(ctx, storageFailure, "updating image status", err)
		}
	}

	msg, err := r.saveHypothesis(ctx, rn, b.String())
	if err != nil {
		return nil, err
	}
	return &Outcome{MessageID: msg.ID, Hypothesis: msg.Content}, nil
}

// saveHypothesis appends the single assistant message a completed run produces.
func (r *Runner) saveHypothesis(ctx context.Context, rn *run, text string) (*models.Message, error) {
	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	msg, err := rn.sess.CreateMessage(ctx, rn.req.ConversationID, models.RoleAssistant, strings.TrimSpace(text))
	if err != nil {
		return nil, stageErr(ctx, storageFailure, "saving hypothesis", err)
	}
	return msg, nil
}

// markImage records a terminal image status after a failure. The run is
// already ending, so a failed write is only logged.
func (r *Runner) markImage(ctx context.Context, sess store.Session, id uuid.UUID, status models.ImageStatus) {
	if err := sess.SetImageStatus(context.WithoutCancel(ctx), id, status); err != nil {
		slog.Warn("failed to update image status", "image_id", id, "status", status, "error", err)
	}
}

func (r *Runner) markAll(ctx context.Context, rn *run, status models.ImageStatus) {
	for _, img := range rn.images {
		r.markImage(ctx, rn.sess, img.ID, status)
	}
}

func (r *Runner) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.ObserveStage(stage, time.Since(start))
	return err
}
