// internal/agent/gate.go
package agent

import (
	"fmt"
	"strings"
)

// ResumeKind is how the loop continues after an operator answers.
type ResumeKind int

const (
	// ResumeProceed dispatches the pending prediction unchanged.
	ResumeProceed ResumeKind = iota
	// ResumeReplace dispatches Prediction instead of the pending one.
	ResumeReplace
	// ResumeReject drops the pending prediction and asks for another approach.
	ResumeReject
	// ResumeTerminate ends the run.
	ResumeTerminate
)

func (k ResumeKind) String() string {
	switch k {
	case ResumeProceed:
		return "proceed"
	case ResumeReplace:
		return "replace"
	case ResumeReject:
		return "reject"
	case ResumeTerminate:
		return "terminate"
	}
	return fmt.Sprintf("ResumeKind(%d)", int(k))
}

// ResumeDecision is the interpreted operator answer.
type ResumeDecision struct {
	Kind       ResumeKind
	Prediction Prediction
}

// Gate decides which predictions need an operator's approval.
type Gate struct {
	risky map[ActionKind]bool
}

// NewGate builds a gate that suspends live runs before any of risky.
func NewGate(risky []string) *Gate {
	g := &Gate{risky: make(map[ActionKind]bool, len(risky))}
	for _, r := range risky {
		if k, err := ParseActionKind(r); err == nil {
			g.risky[k] = true
		}
	}
	return g
}

// ShouldSuspend reports whether p must be approved before dispatch. HUMAN
// always suspends. Otherwise nothing suspends unless intervention is enabled
// for the run, in which case every scripted step and every risky live action
// does.
func (g *Gate) ShouldSuspend(state *AgentState, p Prediction) bool {
	if p.Action == ActionHuman {
		return true
	}
	if !state.HumanIntervention {
		return false
	}
	if p.Action == ActionAnswer || p.Action == ActionRetry {
		return false
	}
	if state.Mode.Scripted() {
		return true
	}
	return g.risky[p.Action]
}

// Describe renders the question put to the operator.
func Describe(p Prediction) string {
	if p.Action == ActionHuman {
		question := strings.Join(p.Args, " ")
		if question == "" {
			question = "The agent is asking for help."
		}
		return "Agent requests assistance: " + question
	}
	return fmt.Sprintf("Agent wants to perform: %s with args: %q", p.Action, p.Args)
}

// ApplyResume interprets an operator answer to pending. Empty or "approved"
// proceeds, "exit" terminates, "no", "cancel" and "reject" drop the action,
// and anything else is treated as a replacement argument. TYPE keeps its
// target and takes the answer as the text.
func ApplyResume(pending Prediction, cmd ResumeCommand) ResumeDecision {
	value := strings.TrimSpace(cmd.Value)
	switch strings.ToLower(value) {
	case "", "approved":
		return ResumeDecision{Kind: ResumeProceed, Prediction: pending}
	case "exit":
		return ResumeDecision{Kind: ResumeTerminate}
	case "no", "cancel", "reject":
		return ResumeDecision{Kind: ResumeReject, Prediction: pending}
	}

	replaced := Prediction{Action: pending.Action}
	switch {
	case pending.Action == ActionType && len(pending.Args) > 0:
		replaced.Args = []string{pending.Args[0], value}
	default:
		replaced.Args = []string{value}
	}
	return ResumeDecision{Kind: ResumeReplace, Prediction: replaced}
}
