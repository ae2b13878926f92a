// internal/agent/orchestrator.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxSteps      = 150
	defaultMaxRetries    = 3
	defaultActionTimeout = 60 * time.Second

	// actionPredict labels observations recorded for failed predictions.
	actionPredict ActionKind = "PREDICT"
)

// Orchestrator drives one run through annotate, predict, gate, dispatch and
// record. Steps are strictly sequential; Step and Resume share one lock.
type Orchestrator struct {
	mu sync.Mutex

	runID       string
	state       *AgentState
	driver      Driver
	annotator   Annotator
	predictor   Predictor
	executor    *Executor
	gate        *Gate
	checkpoints CheckpointStore
	recorder    Recorder
	metrics     Metrics
	logger      *zap.Logger

	maxSteps      int
	maxRetries    int
	actionTimeout time.Duration

	status     RunStatus
	checkpoint *Checkpoint
	// restored is set by Restore until the page has been checked against
	// the checkpoint on Resume.
	restored bool
	release    func()
	final      *StepResult

	stopCtx context.Context
	stop    context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

func WithPredictor(p Predictor) Option {
	return func(o *Orchestrator) { o.predictor = p }
}

func WithGate(g *Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithCheckpointStore persists suspensions so another process holding the
// same browser can Restore them.
func WithCheckpointStore(s CheckpointStore) Option {
	return func(o *Orchestrator) { o.checkpoints = s }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLimits sets the step bound and the consecutive RETRY bound. Zero keeps
// the default.
func WithLimits(maxSteps, maxRetries int) Option {
	return func(o *Orchestrator) {
		if maxSteps > 0 {
			o.maxSteps = maxSteps
		}
		if maxRetries > 0 {
			o.maxRetries = maxRetries
		}
	}
}

// WithActionTimeout bounds a single dispatched tool.
func WithActionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.actionTimeout = d
		}
	}
}

// NewOrchestrator wires a run. Scripted runs default to the ScriptedPredictor;
// live runs must be given one.
func NewOrchestrator(state *AgentState, driver Driver, annotator Annotator, executor *Executor, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		runID:         uuid.NewString(),
		state:         state,
		driver:        driver,
		annotator:     annotator,
		executor:      executor,
		gate:          NewGate([]string{string(ActionClick), string(ActionType), string(ActionNavigate)}),
		recorder:      nopRecorder{},
		metrics:       nopMetrics{},
		maxSteps:      defaultMaxSteps,
		maxRetries:    defaultMaxRetries,
		actionTimeout: defaultActionTimeout,
		status:        RunRunning,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.state == nil {
		return nil, errors.New("agent state is required")
	}
	if o.driver == nil || o.annotator == nil || o.executor == nil {
		return nil, errors.New("driver, annotator and executor are required")
	}
	if o.predictor == nil {
		if !o.state.Mode.Scripted() {
			return nil, ErrMissingPredictor
		}
		o.predictor = ScriptedPredictor{}
	}
	o.logger = logger.Named("orchestrator").With(zap.String("run_id", o.runID))
	o.stopCtx, o.stop = context.WithCancel(context.Background())
	return o, nil
}

func (o *Orchestrator) RunID() string { return o.runID }

func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// State returns a copy of the current working memory.
func (o *Orchestrator) State() AgentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneState(o.state)
}

// Stop asks the run to end. The loop moves to TERMINATED at its next
// suspension point: a predictor call, an operator wait or a page wait.
func (o *Orchestrator) Stop() {
	o.stop()
}

// bind ties ctx to Stop.
func (o *Orchestrator) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if o.stopCtx.Err() != nil {
		cancel()
		return ctx, cancel
	}
	unregister := context.AfterFunc(o.stopCtx, cancel)
	return ctx, func() {
		unregister()
		cancel()
	}
}

// Step runs one iteration. It returns an InterruptMessage, and leaves the run
// AWAITING_HUMAN, when the predicted action needs an operator. Terminal
// outcomes are reported through StepResult.Status and StepResult.Err.
func (o *Orchestrator) Step(ctx context.Context) (StepResult, *InterruptMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.final != nil {
		return *o.final, nil, ErrRunFinished
	}
	if o.status == RunAwaitingHuman {
		return StepResult{Status: o.status}, nil, ErrAwaitingHuman
	}

	ctx, cancel := o.bind(ctx)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return o.terminate(err), nil, nil
	}
	if res, done := o.checkLimits(); done {
		return res, nil, nil
	}

	ann, err := o.annotator.Annotate(ctx)
	if err != nil {
		return o.terminate(err), nil, nil
	}
	o.state.BBoxes = ann.BBoxes
	o.state.Img = ann.Screenshot
	if ann.URL != "" {
		o.state.URL = ann.URL
	}
	if err := o.annotator.Unmark(ctx); err != nil {
		o.logger.Debug("Could not remove page labels.", zap.Error(err))
	}
	o.state.Step++
	o.state.Scratchpad = FormatContext(o.state)

	start := time.Now()
	pred, note, err := o.predict(ctx)
	switch {
	case err != nil:
		return o.terminate(err), nil, nil
	case note != nil:
		o.record(ctx, *note)
		o.metrics.ObserveStep(note.Action, string(note.Status), time.Since(start))
		return StepResult{Status: RunRunning, Observation: note, RepeatedFailures: o.state.RepeatedFailures}, nil, nil
	case pred.Action == "":
		// A scripted run consumed its last action on RETRY.
		res, _ := o.checkLimits()
		return res, nil, nil
	}

	if o.gate.ShouldSuspend(o.state, pred) {
		msg, err := o.suspend(ctx, pred)
		if err != nil {
			return StepResult{Status: o.status}, nil, err
		}
		return StepResult{Status: RunAwaitingHuman, RepeatedFailures: o.state.RepeatedFailures}, msg, nil
	}
	return o.dispatch(ctx, pred, start), nil, nil
}

// checkLimits ends the run before any work when it cannot make progress.
func (o *Orchestrator) checkLimits() (StepResult, bool) {
	switch {
	case o.state.RepeatedFailures > 1:
		return o.abort("the same action failed repeatedly", ErrCodeRepeatedFailure), true
	case o.state.Mode.Exhausted():
		return o.abort("scripted actions exhausted without ANSWER", ""), true
	case o.maxSteps > 0 && o.state.Step >= o.maxSteps:
		return o.abort(fmt.Sprintf("step limit of %d reached", o.maxSteps), ""), true
	}
	return StepResult{Status: RunRunning}, false
}

// predict asks for the next action, looping on RETRY. A failed prediction is
// recorded and returned as note; the loop carries on with the next step.
func (o *Orchestrator) predict(ctx context.Context) (Prediction, *Observation, error) {
	retries := 0
	for {
		start := time.Now()
		p, err := o.predictor.Predict(ctx, o.state)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Prediction{}, nil, ctxErr
			}
			o.metrics.ObservePrediction("error", time.Since(start))
			o.logger.Warn("Prediction failed.", zap.Error(err))
			obs := recordNote(o.state, failure(actionPredict, nil, ErrCodePrediction, err))
			return Prediction{}, &obs, nil
		}

		if p.Action != ActionRetry {
			o.metrics.ObservePrediction("ok", time.Since(start))
			p.Args = append([]string(nil), p.Args...)
			o.state.Prediction = &p
			return p, nil, nil
		}

		o.metrics.ObservePrediction("retry", time.Since(start))
		o.state.Mode.Advance()
		retries++
		if o.state.Mode.Exhausted() {
			return Prediction{}, nil, nil
		}
		if retries >= o.maxRetries {
			obs := recordNote(o.state, Observation{
				Action:  string(ActionRetry),
				Status:  StatusWarning,
				Details: fmt.Sprintf("Predictor asked to retry %d times in a row", retries),
			})
			return Prediction{}, &obs, nil
		}
		o.logger.Debug("Predictor asked to retry.", zap.Int("attempt", retries))
	}
}

func (o *Orchestrator) suspend(ctx context.Context, p Prediction) (*InterruptMessage, error) {
	cp := Checkpoint{
		RunID:     o.runID,
		State:     cloneState(o.state),
		Pending:   p,
		CreatedAt: time.Now().UTC(),
	}
	if o.checkpoints != nil {
		if err := o.checkpoints.Save(context.WithoutCancel(ctx), cp); err != nil {
			return nil, fmt.Errorf("saving checkpoint for run %s: %w", o.runID, err)
		}
	}
	o.checkpoint = &cp
	if pinner, ok := o.driver.(Pinner); ok {
		o.release = pinner.Pin()
	}
	o.status = RunAwaitingHuman
	o.metrics.IncInterrupt()

	msg := o.interruptFor(cp)
	o.logger.Info("Awaiting operator approval.", zap.String("pending", p.String()), zap.Int("step", o.state.Step))
	return &msg, nil
}

func (o *Orchestrator) interruptFor(cp Checkpoint) InterruptMessage {
	return InterruptMessage{
		RunID:       cp.RunID,
		Description: Describe(cp.Pending),
		Pending:     cp.Pending,
		Step:        cp.State.Step,
		URL:         cp.State.URL,
	}
}

// Restore loads a suspended run saved by another orchestrator and returns
// its interrupt so it can be put to an operator again.
func (o *Orchestrator) Restore(ctx context.Context, runID string) (*InterruptMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.checkpoints == nil {
		return nil, fmt.Errorf("restoring run %s: %w", runID, ErrCheckpointMiss)
	}
	cp, err := o.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("restoring run %s: %w", runID, err)
	}
	o.runID = runID
	o.logger = o.logger.With(zap.String("restored_run_id", runID))
	restored := cloneState(&cp.State)
	o.state = &restored
	o.checkpoint = &cp
	o.final = nil
	if restored.Mode.Scripted() {
		o.predictor = ScriptedPredictor{}
	}
	if o.release == nil {
		if pinner, ok := o.driver.(Pinner); ok {
			o.release = pinner.Pin()
		}
	}
	o.status = RunAwaitingHuman
	o.restored = true
	msg := o.interruptFor(cp)
	return &msg, nil
}

// Resume completes the suspended iteration with the operator's answer.
func (o *Orchestrator) Resume(ctx context.Context, cmd ResumeCommand) (StepResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != RunAwaitingHuman {
		return StepResult{Status: o.status}, ErrNotSuspended
	}
	cp, err := o.loadCheckpoint(ctx)
	if err != nil {
		return StepResult{Status: o.status}, err
	}

	restored := cloneState(&cp.State)
	o.state = &restored
	o.checkpoint = nil
	o.releasePin()
	o.status = RunRunning
	if o.checkpoints != nil {
		if err := o.checkpoints.Delete(context.WithoutCancel(ctx), o.runID); err != nil {
			o.logger.Warn("Failed to delete checkpoint.", zap.Error(err))
		}
	}

	ctx, cancel := o.bind(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return o.terminate(err), nil
	}

	decision := ApplyResume(cp.Pending, cmd)
	o.logger.Info("Operator answered.", zap.Stringer("decision", decision.Kind), zap.String("pending", cp.Pending.String()))
	start := time.Now()

	if decision.Kind == ResumeTerminate {
		return o.terminate(errors.New("operator requested exit")), nil
	}

	stale := o.restored && o.returnToPage(ctx, cp.State.URL)
	o.restored = false

	switch decision.Kind {
	case ResumeReject:
		obs := Observation{
			Action:  string(cp.Pending.Action),
			Args:    cp.Pending.Args,
			Status:  StatusWarning,
			Details: "Operator rejected this action. Please suggest an alternative approach.",
		}
		return o.complete(ctx, obs, start), nil
	}

	if cp.Pending.Action == ActionHuman {
		return o.complete(ctx, operatorGuidance(cp.Pending, decision), start), nil
	}
	if stale && targetsElement(decision.Prediction) {
		// The labels belong to a page load that no longer exists. The
		// action is not consumed, so a scripted run offers it again.
		o.state.ClearBoxes()
		obs := recordNote(o.state, Observation{
			Action:  string(decision.Prediction.Action),
			Args:    decision.Prediction.Args,
			Status:  StatusWarning,
			Details: "The page was reloaded when the run resumed, so element labels are out of date. Choose the element again.",
		})
		o.record(ctx, obs)
		o.metrics.ObserveStep(obs.Action, string(obs.Status), time.Since(start))
		return StepResult{Status: RunRunning, Observation: &obs, RepeatedFailures: o.state.RepeatedFailures}, nil
	}
	return o.dispatch(ctx, decision.Prediction, start), nil
}

// returnToPage brings a restored run back to the page its checkpoint was
// taken on. It reports whether the page had to be loaded again, which
// invalidates the checkpoint's boxes.
func (o *Orchestrator) returnToPage(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	pageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.actionTimeout)
	defer cancel()
	if current, err := o.driver.CurrentURL(pageCtx); err == nil && current == url {
		return false
	}
	o.logger.Info("Returning to the checkpoint page.", zap.String("url", url))
	if err := o.driver.Goto(pageCtx, url); err != nil {
		o.logger.Warn("Could not reopen the checkpoint page.", zap.String("url", url), zap.Error(err))
	}
	return true
}

// targetsElement reports whether p addresses a labelled box by id.
func targetsElement(p Prediction) bool {
	switch p.Action {
	case ActionClick, ActionType:
		return true
	case ActionScroll:
		return len(p.Args) > 0 && !strings.EqualFold(strings.TrimSpace(p.Args[0]), "WINDOW")
	}
	return false
}

func (o *Orchestrator) loadCheckpoint(ctx context.Context) (Checkpoint, error) {
	if o.checkpoints != nil {
		cp, err := o.checkpoints.Load(context.WithoutCancel(ctx), o.runID)
		if err == nil {
			return cp, nil
		}
		if !errors.Is(err, ErrCheckpointMiss) || o.checkpoint == nil {
			return Checkpoint{}, fmt.Errorf("loading checkpoint for run %s: %w", o.runID, err)
		}
		o.logger.Warn("Checkpoint missing from store, resuming from memory.")
	}
	if o.checkpoint == nil {
		return Checkpoint{}, ErrCheckpointMiss
	}
	return *o.checkpoint, nil
}

func operatorGuidance(pending Prediction, d ResumeDecision) Observation {
	obs := Observation{Action: string(ActionHuman), Args: pending.Args, Status: StatusSuccess}
	if d.Kind == ResumeReplace && len(d.Prediction.Args) > 0 {
		obs.Details = "Operator said: " + d.Prediction.Args[0]
	} else {
		obs.Details = "Operator acknowledged the request without further instructions"
	}
	return obs
}

// dispatch runs p. Tools run on a context detached from ctx so a stop never
// tears a page operation in half; actionTimeout bounds them instead.
func (o *Orchestrator) dispatch(ctx context.Context, p Prediction, start time.Time) StepResult {
	if p.Action == ActionAnswer {
		result := strings.Join(p.Args, " ")
		obs := Observation{Action: string(ActionAnswer), Args: p.Args, Status: StatusSuccess, Details: "Final answer: " + result}
		res := o.complete(ctx, obs, start)
		res.Status = RunDone
		res.Result = result
		return o.finish(res)
	}

	actionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.actionTimeout)
	obs := o.executor.Dispatch(actionCtx, o.state, o.driver, p)
	cancel()
	return o.complete(ctx, obs, start)
}

// complete records obs as the outcome of the current step.
func (o *Orchestrator) complete(ctx context.Context, obs Observation, start time.Time) StepResult {
	obs = RecordStep(o.state, obs)
	o.record(ctx, obs)
	o.metrics.ObserveStep(obs.Action, string(obs.Status), time.Since(start))
	o.logger.Info("Step recorded.", zap.Int("step", o.state.Step), zap.String("observation", obs.Format()))
	return StepResult{Status: RunRunning, Observation: &obs, RepeatedFailures: o.state.RepeatedFailures}
}

// record hands obs to the recorder. Sink failures never fail the run.
func (o *Orchestrator) record(ctx context.Context, obs Observation) {
	rec := StepRecord{
		RunID:      o.runID,
		Step:       obs.Step,
		Action:     obs.Action,
		Args:       obs.Args,
		Status:     string(obs.Status),
		Details:    obs.Details,
		Code:       string(obs.Code),
		URL:        o.state.URL,
		Screenshot: o.state.Img,
		Timestamp:  time.Now().UTC(),
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("Failed to record step.", zap.Int("step", obs.Step), zap.Error(err))
	}
}

func (o *Orchestrator) abort(reason string, code ErrorCode) StepResult {
	last := o.state.LastObservation()
	return o.finish(StepResult{
		Status:           RunAborted,
		Observation:      last,
		RepeatedFailures: o.state.RepeatedFailures,
		Err: &AbortedError{
			Reason:           reason,
			Code:             code,
			LastObservation:  last,
			RepeatedFailures: o.state.RepeatedFailures,
		},
	})
}

func (o *Orchestrator) terminate(cause error) StepResult {
	err := ErrTerminated
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrTerminated, cause)
	}
	return o.finish(StepResult{
		Status:           RunTerminated,
		Observation:      o.state.LastObservation(),
		RepeatedFailures: o.state.RepeatedFailures,
		Err:              err,
	})
}

func (o *Orchestrator) finish(res StepResult) StepResult {
	o.status = res.Status
	o.final = &res
	o.releasePin()
	o.metrics.IncRun(string(res.Status))
	fields := []zap.Field{zap.String("status", string(res.Status)), zap.Int("steps", o.state.Step)}
	if res.Err != nil {
		o.logger.Warn("Run finished without an answer.", append(fields, zap.Error(res.Err))...)
	} else {
		o.logger.Info("Run finished.", append(fields, zap.String("result", res.Result))...)
	}
	return res
}

func (o *Orchestrator) releasePin() {
	if o.release != nil {
		o.release()
		o.release = nil
	}
}

// Run drives Step and Resume to a terminal state, putting every interrupt to
// channel. A run restored with Restore starts by asking its pending
// question. It returns the ANSWER payload, or the run's error.
func (o *Orchestrator) Run(ctx context.Context, channel HumanChannel) (string, error) {
	o.logger.Info("Run starting.", zap.String("task", o.state.Task), zap.String("mode", string(o.state.Mode.Kind)))
	if msg := o.restoredInterrupt(); msg != nil {
		res, err := o.askOperator(ctx, channel, *msg)
		if err != nil {
			return "", err
		}
		if res.Status.Terminal() {
			return res.Result, res.Err
		}
	}
	for {
		res, msg, err := o.Step(ctx)
		if err != nil {
			return "", err
		}
		if msg != nil {
			if res, err = o.askOperator(ctx, channel, *msg); err != nil {
				return "", err
			}
		}
		if res.Status.Terminal() {
			return res.Result, res.Err
		}
	}
}

func (o *Orchestrator) restoredInterrupt() *InterruptMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != RunAwaitingHuman || o.checkpoint == nil {
		return nil
	}
	msg := o.interruptFor(*o.checkpoint)
	return &msg
}

func (o *Orchestrator) askOperator(ctx context.Context, channel HumanChannel, msg InterruptMessage) (StepResult, error) {
	if channel == nil {
		return StepResult{Status: RunAwaitingHuman}, ErrNoHumanChannel
	}
	askCtx, cancel := o.bind(ctx)
	cmd, err := channel.Ask(askCtx, msg)
	cancel()
	if err != nil {
		if askCtx.Err() == nil {
			return StepResult{Status: RunAwaitingHuman}, fmt.Errorf("asking operator: %w", err)
		}
		// Cancelled while waiting; unwind the suspension as an exit.
		cmd = ResumeCommand{Value: "exit"}
	}
	return o.Resume(context.WithoutCancel(ctx), cmd)
}

// cloneState copies everything a later step could mutate in place.
func cloneState(s *AgentState) AgentState {
	c := *s
	c.BBoxes = append(c.BBoxes[:0:0], s.BBoxes...)
	c.Observations = append(c.Observations[:0:0], s.Observations...)
	c.Scratchpad = append(c.Scratchpad[:0:0], s.Scratchpad...)
	c.Mode.Actions = append(c.Mode.Actions[:0:0], s.Mode.Actions...)
	if s.Prediction != nil {
		p := *s.Prediction
		p.Args = append([]string(nil), p.Args...)
		c.Prediction = &p
	}
	return c
}
