package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/casefile/internal/pipeline"
)

// Streamer runs a pipeline inline, writing its events as they happen.
type Streamer interface {
	Stream(ctx context.Context, req pipeline.Request, w pipeline.EventWriter)
}

// SSEWriter frames events as text/event-stream and flushes after each one, so
// the client sees every stage before the next begins.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	return &SSEWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *SSEWriter) WriteEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// NewStreamHandler returns an http.HandlerFunc for POST /api/v1/analyze/stream.
// Request validation errors are plain JSON; once the stream opens every
// outcome, failures included, arrives as an event.
func NewStreamHandler(svc Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAnalyzeRequest(w, r)
		if !ok {
			return
		}

		sse := NewSSEWriter(w)
		// Runs can outlast the server's write timeout.
		_ = sse.rc.SetWriteDeadline(time.Time{})

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if err := sse.rc.Flush(); err != nil {
			slog.Error("event stream cannot flush", "error", err)
			return
		}

		svc.Stream(r.Context(), req, sse)
	}
}
