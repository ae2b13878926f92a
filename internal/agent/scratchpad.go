// internal/agent/scratchpad.go
package agent

import (
	"fmt"
	"strings"
)

// FormatContext rebuilds the predictor context from the state: the current
// observation, a warning when the last action keeps failing, the full
// history newest first, and the labelled elements.
func FormatContext(state *AgentState) []Message {
	msgs := make([]Message, 0, 4)

	current := "No actions taken yet."
	if last := state.LastObservation(); last != nil {
		current = last.Format()
	}
	msgs = append(msgs, Message{Role: RoleSystem, Content: "CURRENT OBSERVATION:\n" + current})

	if state.Prediction != nil {
		if n := len(CheckRepeatedFailure(state.Observations, string(state.Prediction.Action), state.Prediction.Args)); n > 0 {
			msgs = append(msgs, Message{
				Role:    RoleSystem,
				Content: fmt.Sprintf("WARNING: This exact action has failed %d times before. Consider an alternative approach.", n),
			})
		}
	}

	if len(state.Observations) > 0 {
		var b strings.Builder
		b.WriteString("PREVIOUS OBSERVATIONS (newest first):\n")
		for i := len(state.Observations) - 1; i >= 0; i-- {
			b.WriteString(state.Observations[i].Format())
			b.WriteByte('\n')
		}
		msgs = append(msgs, Message{Role: RoleSystem, Content: strings.TrimRight(b.String(), "\n")})
	}

	msgs = append(msgs, Message{Role: RoleSystem, Content: DescribeElements(state)})
	return msgs
}

// DescribeElements renders the current boxes for the prompt.
func DescribeElements(state *AgentState) string {
	if len(state.BBoxes) == 0 {
		return "No elements detected on page"
	}
	var b strings.Builder
	b.WriteString("Available elements on page:")
	for _, box := range state.BBoxes {
		b.WriteByte('\n')
		b.WriteString(box.Description())
	}
	return b.String()
}

// CheckRepeatedFailure returns every error observation recorded for the
// exact same action and arguments.
func CheckRepeatedFailure(observations []Observation, action string, args []string) []Observation {
	key := failureKey(action, args)
	var failures []Observation
	for _, o := range observations {
		if o.Status == StatusError && failureKey(o.Action, o.Args) == key {
			failures = append(failures, o)
		}
	}
	return failures
}

// RecordStep appends the outcome of a step, recomputes the failure count for
// the action just taken and, in scripted runs, moves to the next action.
func RecordStep(state *AgentState, obs Observation) Observation {
	obs = recordNote(state, obs)
	state.Mode.Advance()
	return obs
}

// recordNote records an observation that did not consume a scripted action,
// such as a failed prediction.
func recordNote(state *AgentState, obs Observation) Observation {
	obs = state.AddObservation(obs)
	state.RepeatedFailures = len(CheckRepeatedFailure(state.Observations, obs.Action, obs.Args))
	return obs
}
