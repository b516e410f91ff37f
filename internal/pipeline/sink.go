package pipeline

// Event names emitted to stream consumers, in the order a run produces them.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventText     = "text"
	EventComplete = "complete"
	EventError    = "error"
)

// Step labels reported through Progress and stored as a job's current_step.
const (
	StepValidating = "validating"
	StepDetection  = "detection"
	StepOCR        = "ocr"
	StepProcessing = "processing"
	StepNLP        = "nlp"
	StepComplete   = "complete"
)

// Progress describes one stage boundary. Image is 1-based; zero fields are
// omitted, as the nlp step carries neither image nor total.
type Progress struct {
	Step        string `json:"step"`
	Image       int    `json:"image,omitempty"`
	TotalImages int    `json:"total_images,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Fields flattens p into the key/value delta merged into a job's progress map.
func (p Progress) Fields() map[string]any {
	m := map[string]any{"step": p.Step}
	if p.Image > 0 {
		m["image"] = p.Image
	}
	if p.TotalImages > 0 {
		m["total_images"] = p.TotalImages
	}
	if p.Status != "" {
		m["status"] = p.Status
	}
	return m
}

// Sink observes a run. Calls arrive sequentially from the goroutine executing
// the run and must not block for long.
type Sink interface {
	Start(totalImages int)
	Progress(p Progress)
}

// TextSink additionally receives hypothesis fragments as they are generated.
// A run reporting to a TextSink streams generation; otherwise it asks the
// model for the whole answer at once.
type TextSink interface {
	Sink
	Text(token string)
}

type discardSink struct{}

func (discardSink) Start(int)         {}
func (discardSink) Progress(Progress) {}
