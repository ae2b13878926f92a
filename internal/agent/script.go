// internal/agent/script.go
package agent

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type scriptStep struct {
	Action string   `yaml:"action"`
	Args   []string `yaml:"args"`
}

type scriptFile struct {
	Task    string       `yaml:"task"`
	Actions []scriptStep `yaml:"actions"`
}

// Script is a scripted run read from YAML. The file is either a bare list of
// steps or a mapping with an optional task and an actions list:
//
//	task: find the opening hours
//	actions:
//	  - action: TYPE
//	    args: ["4", "opening hours\n"]
//	  - action: ANSWER
//	    args: ["9 to 5"]
type Script struct {
	Task    string
	Actions []Prediction
}

// LoadScript reads and validates a script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (Script, error) {
	data = bytes.TrimSpace(data)
	var file scriptFile
	if len(data) > 0 && data[0] == '-' {
		if err := yaml.Unmarshal(data, &file.Actions); err != nil {
			return Script{}, fmt.Errorf("parsing script: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &file); err != nil {
		return Script{}, fmt.Errorf("parsing script: %w", err)
	}
	if len(file.Actions) == 0 {
		return Script{}, fmt.Errorf("script has no actions")
	}

	s := Script{Task: file.Task, Actions: make([]Prediction, 0, len(file.Actions))}
	for i, step := range file.Actions {
		kind, err := ParseActionKind(step.Action)
		if err != nil {
			return Script{}, fmt.Errorf("script step %d: %w", i+1, err)
		}
		s.Actions = append(s.Actions, Prediction{Action: kind, Args: step.Args})
	}
	return s, nil
}
