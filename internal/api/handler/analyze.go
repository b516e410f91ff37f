package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/ai"
	"github.com/kiranshivaraju/casefile/internal/api/response"
	"github.com/kiranshivaraju/casefile/internal/pipeline"
	"github.com/kiranshivaraju/casefile/internal/vision"
)

const maxContextBytes = 4000

// Analyzer runs a pipeline inline and returns its outcome.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

type analyzeRequest struct {
	ConversationID   string  `json:"conversation_id"`
	Context          *string `json:"context"`
	UseBasicPipeline *bool   `json:"use_basic_pipeline"`
}

// decodeAnalyzeRequest parses the body shared by the analyze, stream and job
// endpoints. On failure it has already written the error response.
func decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, bool) {
	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return pipeline.Request{}, false
	}

	if body.ConversationID == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "conversation_id is required", nil)
		return pipeline.Request{}, false
	}
	convID, err := uuid.Parse(body.ConversationID)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_CONVERSATION_ID", "conversation_id must be a valid UUID", nil)
		return pipeline.Request{}, false
	}

	var caseContext string
	if body.Context != nil {
		caseContext = *body.Context
	}
	if len(caseContext) > maxContextBytes {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "context must be at most 4000 bytes", nil)
		return pipeline.Request{}, false
	}

	return pipeline.Request{
		ConversationID: convID,
		Context:        caseContext,
		Variant:        pipeline.VariantFor(body.UseBasicPipeline),
	}, true
}

// writePipelineError maps a run failure onto the error envelope.
func writePipelineError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		slog.Error("unexpected pipeline error", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	switch pe.Kind {
	case pipeline.KindNotFound:
		response.Error(w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", pe.Message, nil)
	case pipeline.KindInvalidInput:
		code := "INVALID_REQUEST"
		if pe.Message == pipeline.MsgNoImages {
			code = "NO_IMAGES"
		}
		response.Error(w, http.StatusBadRequest, code, pe.Message, nil)
	case pipeline.KindUpstreamFailure:
		switch {
		case errors.Is(err, ai.ErrInferenceTimeout), errors.Is(err, vision.ErrTimeout):
			response.Error(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", err.Error(), nil)
		default:
			response.Error(w, http.StatusBadGateway, "UPSTREAM_FAILURE", err.Error(), nil)
		}
	case pipeline.KindCanceled:
		// Client went away; nobody reads this.
		response.Error(w, http.StatusServiceUnavailable, "CANCELED", pe.Message, nil)
	default:
		slog.Error("pipeline storage failure", "error", err)
		response.Error(w, http.StatusInternalServerError, "STORAGE_FAILURE", pe.Message, nil)
	}
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/analyze.
func NewAnalyzeHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAnalyzeRequest(w, r)
		if !ok {
			return
		}

		out, err := svc.Analyze(r.Context(), req)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		images := out.Images
		if images == nil {
			images = []pipeline.ImageResult{}
		}
		response.JSON(w, analyzeResponse{
			Status:          "completed",
			Variant:         string(out.Variant),
			MessageID:       out.MessageID,
			Hypothesis:      out.Hypothesis,
			ObjectsDetected: out.ObjectsDetected,
			TextsExtracted:  out.TextsExtracted,
			Images:          images,
		})
	}
}

type analyzeResponse struct {
	Status          string                 `json:"status"`
	Variant         string                 `json:"variant"`
	MessageID       uuid.UUID              `json:"message_id"`
	Hypothesis      string                 `json:"hypothesis"`
	ObjectsDetected int                    `json:"objects_detected"`
	TextsExtracted  int                    `json:"texts_extracted"`
	Images          []pipeline.ImageResult `json:"images"`
}
