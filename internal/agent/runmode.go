// internal/agent/runmode.go
package agent

// ModeKind selects where predictions come from.
type ModeKind string

const (
	ModeLive     ModeKind = "live"
	ModeScripted ModeKind = "scripted"
)

// RunMode is fixed when a run is created. Live runs take predictions from
// the injected Predictor. Scripted runs replay Actions one per step.
type RunMode struct {
	Kind    ModeKind     `json:"kind"`
	Actions []Prediction `json:"actions,omitempty"`
}

func LiveMode() RunMode {
	return RunMode{Kind: ModeLive}
}

func ScriptedMode(actions []Prediction) RunMode {
	cp := make([]Prediction, len(actions))
	copy(cp, actions)
	return RunMode{Kind: ModeScripted, Actions: cp}
}

func (m RunMode) Scripted() bool { return m.Kind == ModeScripted }

// Peek returns the next scripted prediction without consuming it.
func (m RunMode) Peek() (Prediction, bool) {
	if !m.Scripted() || len(m.Actions) == 0 {
		return Prediction{}, false
	}
	return m.Actions[0], true
}

// Advance consumes one scripted prediction. It is a no-op in live mode.
func (m *RunMode) Advance() {
	if m.Scripted() && len(m.Actions) > 0 {
		m.Actions = m.Actions[1:]
	}
}

// Exhausted reports a scripted run with nothing left to replay.
func (m RunMode) Exhausted() bool {
	return m.Scripted() && len(m.Actions) == 0
}
