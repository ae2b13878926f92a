// internal/agent/models.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// ActionKind is the closed vocabulary the predictor chooses from.
type ActionKind string

const (
	ActionClick    ActionKind = "CLICK"
	ActionType     ActionKind = "TYPE"
	ActionScroll   ActionKind = "SCROLL"
	ActionWait     ActionKind = "WAIT"
	ActionGoBack   ActionKind = "GOBACK"
	ActionGoogle   ActionKind = "GOOGLE"
	ActionNavigate ActionKind = "NAVIGATE"
	ActionAnswer   ActionKind = "ANSWER"
	ActionRetry    ActionKind = "RETRY"
	ActionHuman    ActionKind = "HUMAN"
)

// AllActions lists every ActionKind in prompt order.
var AllActions = []ActionKind{
	ActionClick, ActionType, ActionScroll, ActionWait, ActionGoBack,
	ActionGoogle, ActionNavigate, ActionAnswer, ActionRetry, ActionHuman,
}

// ParseActionKind accepts any casing and surrounding whitespace.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllActions {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Prediction is the single operation chosen for a step.
type Prediction struct {
	Action ActionKind `json:"action" yaml:"action"`
	Args   []string   `json:"args" yaml:"args"`
}

func (p Prediction) String() string {
	if len(p.Args) == 0 {
		return string(p.Action)
	}
	return fmt.Sprintf("%s %q", p.Action, p.Args)
}

// ObservationStatus is the outcome class of one executed action.
type ObservationStatus string

const (
	StatusSuccess ObservationStatus = "success"
	StatusWarning ObservationStatus = "warning"
	StatusError   ObservationStatus = "error"
)

// Observation is the recorded outcome of one action. Step is assigned when
// the observation is appended to the state.
type Observation struct {
	Step    int               `json:"step"`
	Action  string            `json:"action"`
	Args    []string          `json:"args,omitempty"`
	Status  ObservationStatus `json:"status"`
	Details string            `json:"details"`
	Code    ErrorCode         `json:"code,omitempty"`
}

// Format renders the observation as a single history line, e.g.
// "3. ✗ CLICK: [ELEMENT_NOT_FOUND] no bounding box with id 7".
func (o Observation) Format() string {
	indicator := "✓"
	switch o.Status {
	case StatusWarning:
		indicator = "⚠"
	case StatusError:
		indicator = "✗"
	}
	return fmt.Sprintf("%d. %s %s: %s", o.Step, indicator, strings.ToUpper(o.Action), o.Details)
}

func failureKey(action string, args []string) string {
	return strings.ToUpper(action) + "\x1f" + strings.Join(args, "\x1f")
}

// Message is one rendered context block handed to the predictor.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const RoleSystem = "system"

// AgentState is the loop's working memory. It is serialized in full when a
// run suspends for an operator.
type AgentState struct {
	Task              string                `json:"task"`
	URL               string                `json:"url,omitempty"`
	BBoxes            []schemas.BoundingBox `json:"bboxes"`
	Img               string                `json:"img,omitempty"`
	Prediction        *Prediction           `json:"prediction,omitempty"`
	Observations      []Observation         `json:"observations"`
	Scratchpad        []Message             `json:"scratchpad,omitempty"`
	RepeatedFailures  int                   `json:"repeatedFailures"`
	HumanIntervention bool                  `json:"humanIntervention"`
	Mode              RunMode               `json:"mode"`
	Step              int                   `json:"step"`
}

func NewAgentState(task string, mode RunMode, humanIntervention bool) *AgentState {
	return &AgentState{
		Task:              task,
		Mode:              mode,
		HumanIntervention: humanIntervention,
		BBoxes:            []schemas.BoundingBox{},
		Observations:      []Observation{},
	}
}

// AddObservation appends obs, numbering it after the existing history. It is
// the only writer of Observations.
func (s *AgentState) AddObservation(obs Observation) Observation {
	obs.Step = len(s.Observations) + 1
	s.Observations = append(s.Observations, obs)
	return obs
}

// LastObservation returns nil before the first action.
func (s *AgentState) LastObservation() *Observation {
	if len(s.Observations) == 0 {
		return nil
	}
	last := s.Observations[len(s.Observations)-1]
	return &last
}

// ClearBoxes drops the current annotation. Coordinates are meaningless once
// the page has changed.
func (s *AgentState) ClearBoxes() {
	s.BBoxes = []schemas.BoundingBox{}
}

func (s *AgentState) FindBox(id string) (schemas.BoundingBox, bool) {
	id = strings.TrimSpace(id)
	for _, b := range s.BBoxes {
		if b.ID == id {
			return b, true
		}
	}
	return schemas.BoundingBox{}, false
}

// RunStatus is the orchestrator's externally visible state.
type RunStatus string

const (
	RunRunning       RunStatus = "RUNNING"
	RunAwaitingHuman RunStatus = "AWAITING_HUMAN"
	RunDone          RunStatus = "DONE"
	RunAborted       RunStatus = "ABORTED"
	RunTerminated    RunStatus = "TERMINATED"
)

func (s RunStatus) Terminal() bool {
	return s == RunDone || s == RunAborted || s == RunTerminated
}

// StepResult reports the outcome of one completed iteration.
type StepResult struct {
	Status           RunStatus    `json:"status"`
	Observation      *Observation `json:"observation,omitempty"`
	Result           string       `json:"result,omitempty"`
	RepeatedFailures int          `json:"repeatedFailures"`
	// Err is set for ABORTED and TERMINATED runs.
	Err error `json:"-"`
}

// InterruptMessage is emitted when the loop suspends for an operator.
type InterruptMessage struct {
	RunID       string     `json:"runId"`
	Description string     `json:"description"`
	Pending     Prediction `json:"pending"`
	Step        int        `json:"step"`
	URL         string     `json:"url,omitempty"`
}

// ResumeCommand is the operator's answer to an InterruptMessage.
type ResumeCommand struct {
	Value string `json:"value"`
}
