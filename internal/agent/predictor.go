// internal/agent/predictor.go
package agent

import "context"

// Predictor chooses the next action for the current state.
type Predictor interface {
	Predict(ctx context.Context, state *AgentState) (Prediction, error)
}

// ScriptedPredictor replays the run's scripted actions. It never consumes
// them; the scratchpad advances the script once the step is recorded.
type ScriptedPredictor struct{}

func (ScriptedPredictor) Predict(_ context.Context, state *AgentState) (Prediction, error) {
	p, ok := state.Mode.Peek()
	if !ok {
		return Prediction{}, &PredictionError{Reason: "no scripted actions left"}
	}
	if _, err := ParseActionKind(string(p.Action)); err != nil {
		return Prediction{}, &PredictionError{Reason: "scripted action outside the vocabulary", Raw: string(p.Action), Err: err}
	}
	return p, nil
}
