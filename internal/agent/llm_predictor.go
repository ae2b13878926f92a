// internal/agent/llm_predictor.go
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// LLMPredictor asks a multimodal model for the next action.
type LLMPredictor struct {
	client      schemas.LLMClient
	logger      *zap.Logger
	timeout     time.Duration
	temperature float64
}

func NewLLMPredictor(client schemas.LLMClient, logger *zap.Logger, timeout time.Duration, temperature float64) *LLMPredictor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LLMPredictor{
		client:      client,
		logger:      logger.Named("predictor"),
		timeout:     timeout,
		temperature: temperature,
	}
}

// Predict sends the task, the scratchpad and the labelled screenshot.
func (p *LLMPredictor) Predict(ctx context.Context, state *AgentState) (Prediction, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: SystemPrompt(),
		UserPrompt:   UserPrompt(state),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: p.temperature},
	}
	if state.Img != "" {
		img, err := base64.StdEncoding.DecodeString(state.Img)
		if err != nil {
			p.logger.Warn("Dropping undecodable screenshot.", zap.Error(err))
		} else {
			req.Images = []schemas.ImagePart{{MIMEType: "image/png", Data: img}}
		}
	}

	apiCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	response, err := p.client.Generate(apiCtx, req)
	if err != nil {
		return Prediction{}, &PredictionError{Reason: "llm generation failed", Err: err}
	}
	pred, thought, err := parsePrediction(response)
	if err != nil {
		p.logger.Warn("Could not parse model reply.", zap.String("raw_response", response), zap.Error(err))
		return Prediction{}, err
	}
	p.logger.Debug("Model chose an action.", zap.String("thought", thought), zap.String("prediction", pred.String()))
	return pred, nil
}

// A regex to pull a JSON object out of a markdown code block.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

type rawPrediction struct {
	Thought string        `json:"thought"`
	Action  string        `json:"action"`
	Args    []interface{} `json:"args"`
}

// parsePrediction accepts raw JSON, JSON in a code fence, or JSON embedded in
// prose. Non-string args are rendered with fmt so labels sent as numbers
// still match box ids.
func parsePrediction(response string) (Prediction, string, error) {
	response = strings.TrimSpace(response)
	candidate := response
	if m := jsonBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		candidate = strings.TrimSpace(m[1])
	} else if first, last := strings.Index(response, "{"), strings.LastIndex(response, "}"); first != -1 && last > first {
		candidate = response[first : last+1]
	}
	if candidate == "" {
		return Prediction{}, "", &PredictionError{Reason: "empty model reply"}
	}

	var raw rawPrediction
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return Prediction{}, "", &PredictionError{Reason: "reply is not a JSON action", Raw: response, Err: err}
	}
	kind, err := ParseActionKind(raw.Action)
	if err != nil {
		return Prediction{}, raw.Thought, &PredictionError{Reason: "action outside the vocabulary", Raw: response, Err: err}
	}

	args := make([]string, 0, len(raw.Args))
	for _, a := range raw.Args {
		switch v := a.(type) {
		case string:
			args = append(args, v)
		case float64:
			args = append(args, strconv.FormatFloat(v, 'f', -1, 64))
		case nil:
			continue
		default:
			args = append(args, fmt.Sprint(v))
		}
	}
	return Prediction{Action: kind, Args: args}, raw.Thought, nil
}
