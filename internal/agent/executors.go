// internal/agent/executors.go
package agent

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

// Tool is one dispatchable action. Validate only looks at the arguments;
// Execute never returns a Go error, failures come back as error observations.
type Tool interface {
	Validate(args []string) error
	Execute(ctx context.Context, state *AgentState, driver Driver, args []string) Observation
}

// ExecutorConfig holds the timings and distances the tools use.
type ExecutorConfig struct {
	NavigationWindow time.Duration
	SettleDelay      time.Duration
	WaitDuration     time.Duration
	PostLoadWait     time.Duration
	WindowScroll     int
	ElementScroll    int
	SearchURL        string
	SelectAll        string
}

// ExecutorConfigFrom derives tool settings from the application config.
func ExecutorConfigFrom(agentCfg config.AgentConfig, browserCfg config.BrowserConfig) ExecutorConfig {
	return ExecutorConfig{
		NavigationWindow: agentCfg.NavigationWindow,
		SettleDelay:      agentCfg.SettleDelay,
		WaitDuration:     agentCfg.WaitDuration,
		PostLoadWait:     browserCfg.PostLoadWait,
		WindowScroll:     agentCfg.WindowScroll,
		ElementScroll:    agentCfg.ElementScroll,
		SearchURL:        agentCfg.SearchURL,
		SelectAll:        selectAllCombo(runtime.GOOS),
	}
}

func selectAllCombo(goos string) string {
	if goos == "darwin" {
		return "Meta+A"
	}
	return "Control+A"
}

// Executor maps predictions to tools and runs them.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.SelectAll == "" {
		cfg.SelectAll = selectAllCombo(runtime.GOOS)
	}
	return &Executor{
		cfg:    cfg,
		logger: logger.Named("executor"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToolFor returns the tool for kind. ANSWER, RETRY and HUMAN are handled by
// the orchestrator and have no tool.
func (e *Executor) ToolFor(kind ActionKind) (Tool, bool) {
	switch kind {
	case ActionClick:
		return clickTool{e}, true
	case ActionType:
		return typeTool{e}, true
	case ActionScroll:
		return scrollTool{e}, true
	case ActionWait:
		return waitTool{e}, true
	case ActionGoBack:
		return goBackTool{e}, true
	case ActionGoogle:
		return googleTool{e}, true
	case ActionNavigate:
		return navigateTool{e}, true
	case ActionAnswer, ActionRetry, ActionHuman:
		return nil, false
	}
	return nil, false
}

// Dispatch validates and executes p against the driver. A panicking tool is
// reported as an error observation.
func (e *Executor) Dispatch(ctx context.Context, state *AgentState, driver Driver, p Prediction) (obs Observation) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool panicked.", zap.String("action", string(p.Action)), zap.Any("panic", r), zap.Stack("stack"))
			obs = failure(p.Action, p.Args, ErrCodeExecutorPanic, fmt.Errorf("tool panicked: %v", r))
		}
	}()

	tool, ok := e.ToolFor(p.Action)
	if !ok {
		return failure(p.Action, p.Args, ErrCodeArgument, fmt.Errorf("%s is not a dispatchable action", p.Action))
	}
	if err := tool.Validate(p.Args); err != nil {
		return failure(p.Action, p.Args, CodeOf(err), err)
	}
	obs = tool.Execute(ctx, state, driver, p.Args)
	obs.Action = string(p.Action)
	obs.Args = p.Args
	if obs.Status == StatusError {
		e.logger.Warn("Action failed.", zap.String("action", obs.Action), zap.Strings("args", p.Args), zap.String("error_code", string(obs.Code)), zap.String("details", obs.Details))
	}
	return obs
}

func success(details string) Observation {
	return Observation{Status: StatusSuccess, Details: details}
}

func failure(action ActionKind, args []string, code ErrorCode, err error) Observation {
	return Observation{
		Action:  string(action),
		Args:    args,
		Status:  StatusError,
		Code:    code,
		Details: fmt.Sprintf("[%s] %v", code, err),
	}
}

func toolFailure(err error) Observation {
	code := CodeOf(err)
	return Observation{Status: StatusError, Code: code, Details: fmt.Sprintf("[%s] %v", code, err)}
}

func arity(action ActionKind, want int, args []string) error {
	if len(args) != want {
		return &ArgumentError{Action: action, Want: want, Got: args}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// interact runs a page action that may trigger a navigation. Boxes are
// dropped when it does, and the page is given a moment to settle either way.
func (e *Executor) interact(ctx context.Context, state *AgentState, driver Driver, details string, action func(context.Context) error) Observation {
	navigated, err := driver.WatchNavigation(ctx, e.cfg.NavigationWindow, action)
	if err != nil {
		return toolFailure(err)
	}
	_ = e.sleep(ctx, e.cfg.SettleDelay)
	if navigated {
		state.ClearBoxes()
		return success(details + " and navigated to new page")
	}
	return success(details)
}

type clickTool struct{ e *Executor }

func (clickTool) Validate(args []string) error { return arity(ActionClick, 1, args) }

func (t clickTool) Execute(ctx context.Context, state *AgentState, driver Driver, args []string) Observation {
	box, ok := state.FindBox(args[0])
	if !ok {
		return toolFailure(&ElementNotFoundError{ID: args[0]})
	}
	details := fmt.Sprintf("Clicked element %s (%s: '%s')", box.ID, box.ElementType, truncate(box.Text, 30))
	return t.e.interact(ctx, state, driver, details, func(ctx context.Context) error {
		return driver.Click(ctx, box.X, box.Y)
	})
}

type typeTool struct{ e *Executor }

func (typeTool) Validate(args []string) error { return arity(ActionType, 2, args) }

func (t typeTool) Execute(ctx context.Context, state *AgentState, driver Driver, args []string) Observation {
	box, ok := state.FindBox(args[0])
	if !ok {
		return toolFailure(&ElementNotFoundError{ID: args[0]})
	}
	text := args[1]
	submit := strings.Contains(text, "\n")
	text = strings.NewReplacer("\r\n", "", "\n", "").Replace(text)

	details := fmt.Sprintf("Text '%s' entered in element %s (%s)", truncate(text, 15), box.ID, box.ElementType)
	return t.e.interact(ctx, state, driver, details, func(ctx context.Context) error {
		if err := driver.Click(ctx, box.X, box.Y); err != nil {
			return err
		}
		if err := driver.Press(ctx, t.e.cfg.SelectAll); err != nil {
			return err
		}
		if err := driver.Press(ctx, "Backspace"); err != nil {
			return err
		}
		if err := driver.Type(ctx, text); err != nil {
			return err
		}
		if submit {
			return driver.Press(ctx, "Enter")
		}
		return nil
	})
}

type scrollTool struct{ e *Executor }

func (scrollTool) Validate(args []string) error {
	if err := arity(ActionScroll, 2, args); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(args[1])) {
	case "up", "down":
	default:
		return &ArgumentError{Action: ActionScroll, Want: 2, Got: args, Reason: fmt.Sprintf("direction must be up or down, got %q", args[1])}
	}
	target := strings.TrimSpace(args[0])
	if strings.EqualFold(target, "WINDOW") {
		return nil
	}
	if _, err := strconv.Atoi(target); err != nil {
		return &ArgumentError{Action: ActionScroll, Want: 2, Got: args, Reason: fmt.Sprintf("target %q is not WINDOW or a box id", args[0])}
	}
	return nil
}

func (t scrollTool) Execute(ctx context.Context, state *AgentState, driver Driver, args []string) Observation {
	target := strings.TrimSpace(args[0])
	direction := strings.ToLower(strings.TrimSpace(args[1]))
	sign := 1
	if direction == "up" {
		sign = -1
	}

	if strings.EqualFold(target, "WINDOW") {
		if err := driver.ScrollWindow(ctx, sign*t.e.cfg.WindowScroll); err != nil {
			return toolFailure(err)
		}
		return success("Window scrolled " + direction)
	}

	box, ok := state.FindBox(target)
	if !ok {
		return toolFailure(&ElementNotFoundError{ID: target})
	}
	if err := driver.WheelAt(ctx, box.X, box.Y, sign*t.e.cfg.ElementScroll); err != nil {
		return toolFailure(err)
	}
	return success(fmt.Sprintf("Element %s (%s) scrolled %s", box.ID, box.ElementType, direction))
}

// Zero argument tools ignore stray arguments; models often send [] or [""].
type waitTool struct{ e *Executor }

func (waitTool) Validate([]string) error { return nil }

func (t waitTool) Execute(ctx context.Context, _ *AgentState, _ Driver, _ []string) Observation {
	_ = t.e.sleep(ctx, t.e.cfg.WaitDuration)
	return success(fmt.Sprintf("Waited for %s", t.e.cfg.WaitDuration))
}

type goBackTool struct{ e *Executor }

func (goBackTool) Validate([]string) error { return nil }

func (goBackTool) Execute(ctx context.Context, state *AgentState, driver Driver, _ []string) Observation {
	state.ClearBoxes()
	if err := driver.GoBack(ctx); err != nil {
		return toolFailure(&NavigationError{Err: err})
	}
	url, err := driver.CurrentURL(ctx)
	if err != nil || url == "" {
		return success("Navigated back")
	}
	return success("Navigated back to " + url)
}

type googleTool struct{ e *Executor }

func (googleTool) Validate([]string) error { return nil }

func (t googleTool) Execute(ctx context.Context, state *AgentState, driver Driver, _ []string) Observation {
	state.ClearBoxes()
	if err := driver.Goto(ctx, t.e.cfg.SearchURL); err != nil {
		return toolFailure(&NavigationError{URL: t.e.cfg.SearchURL, Err: err})
	}
	return success("Navigated to Google homepage")
}

type navigateTool struct{ e *Executor }

func (navigateTool) Validate(args []string) error {
	if err := arity(ActionNavigate, 1, args); err != nil {
		return err
	}
	if strings.TrimSpace(args[0]) == "" {
		return &ArgumentError{Action: ActionNavigate, Want: 1, Got: args, Reason: "url is empty"}
	}
	return nil
}

// NormalizeURL adds https:// to anything that does not already name an
// http(s) scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

func (t navigateTool) Execute(ctx context.Context, state *AgentState, driver Driver, args []string) Observation {
	url := NormalizeURL(args[0])
	state.ClearBoxes()
	if err := driver.Goto(ctx, url); err != nil {
		return toolFailure(&NavigationError{URL: url, Err: err})
	}
	_ = t.e.sleep(ctx, t.e.cfg.PostLoadWait)
	return success("Successfully navigated to " + url)
}
