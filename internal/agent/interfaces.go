// internal/agent/interfaces.go
package agent

import (
	"context"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Driver is the browser surface the tools act through.
type Driver interface {
	Goto(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	Click(ctx context.Context, x, y float64) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, combo string) error
	ScrollWindow(ctx context.Context, dy int) error
	WheelAt(ctx context.Context, x, y float64, dy int) error
	// WatchNavigation runs action and reports whether the main frame
	// navigated within window.
	WatchNavigation(ctx context.Context, window time.Duration, action func(context.Context) error) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Pinner is implemented by drivers that must stay open while a run is
// suspended.
type Pinner interface {
	Pin() (release func())
}

// Annotator labels the page and removes the labels again.
type Annotator interface {
	Annotate(ctx context.Context) (schemas.Annotation, error)
	Unmark(ctx context.Context) error
}

// Checkpoint is everything needed to resume a suspended run.
type Checkpoint struct {
	RunID     string     `json:"runId"`
	State     AgentState `json:"state"`
	Pending   Prediction `json:"pending"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CheckpointStore persists suspended runs. Load returns ErrCheckpointMiss
// for unknown ids.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string) (Checkpoint, error)
	Delete(ctx context.Context, runID string) error
}

// StepRecord is the summary of one step handed to recording sinks.
type StepRecord struct {
	RunID      string    `json:"runId"`
	Step       int       `json:"step"`
	Action     string    `json:"action"`
	Args       []string  `json:"args,omitempty"`
	Status     string    `json:"status"`
	Details    string    `json:"details"`
	Code       string    `json:"code,omitempty"`
	URL        string    `json:"url,omitempty"`
	Screenshot string    `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder receives one StepRecord per recorded observation.
type Recorder interface {
	Record(ctx context.Context, rec StepRecord) error
}

// HumanChannel delivers an interrupt to an operator and waits for the answer.
type HumanChannel interface {
	Ask(ctx context.Context, msg InterruptMessage) (ResumeCommand, error)
}

// Metrics is satisfied by observability.Metrics.
type Metrics interface {
	ObserveStep(action, status string, d time.Duration)
	ObservePrediction(outcome string, d time.Duration)
	IncRun(status string)
	IncInterrupt()
}

type nopMetrics struct{}

func (nopMetrics) ObserveStep(string, string, time.Duration) {}
func (nopMetrics) ObservePrediction(string, time.Duration)   {}
func (nopMetrics) IncRun(string)                             {}
func (nopMetrics) IncInterrupt()                             {}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, StepRecord) error { return nil }
