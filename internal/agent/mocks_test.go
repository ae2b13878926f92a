// internal/agent/mocks_test.go
package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// -- Driver --

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Goto(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockDriver) GoBack(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockDriver) Click(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *mockDriver) Type(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *mockDriver) Press(ctx context.Context, combo string) error {
	return m.Called(ctx, combo).Error(0)
}

func (m *mockDriver) ScrollWindow(ctx context.Context, dy int) error {
	return m.Called(ctx, dy).Error(0)
}

func (m *mockDriver) WheelAt(ctx context.Context, x, y float64, dy int) error {
	return m.Called(ctx, x, y, dy).Error(0)
}

// WatchNavigation runs the action for real; the expectation only decides
// whether a navigation is reported.
func (m *mockDriver) WatchNavigation(ctx context.Context, window time.Duration, action func(context.Context) error) (bool, error) {
	args := m.Called(ctx, window)
	if err := action(ctx); err != nil {
		return false, err
	}
	return args.Bool(0), args.Error(1)
}

func (m *mockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// pinningDriver counts outstanding pins.
type pinningDriver struct {
	*mockDriver
	mu   sync.Mutex
	pins int
}

func (p *pinningDriver) Pin() func() {
	p.mu.Lock()
	p.pins++
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.pins--
			p.mu.Unlock()
		})
	}
}

func (p *pinningDriver) Pins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pins
}

// -- Annotator --

type fakeAnnotator struct {
	mu      sync.Mutex
	boxes   []schemas.BoundingBox
	url     string
	calls   int
	unmarks int
	err     error
}

func (f *fakeAnnotator) Annotate(ctx context.Context) (schemas.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return schemas.Annotation{}, f.err
	}
	if err := ctx.Err(); err != nil {
		return schemas.Annotation{}, err
	}
	boxes := append([]schemas.BoundingBox(nil), f.boxes...)
	return schemas.Annotation{Screenshot: "aW1n", BBoxes: boxes, URL: f.url}, nil
}

func (f *fakeAnnotator) Unmark(context.Context) error {
	f.mu.Lock()
	f.unmarks++
	f.mu.Unlock()
	return nil
}

func (f *fakeAnnotator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// -- Predictor --

type predictorFunc func(ctx context.Context, state *AgentState) (Prediction, error)

func (f predictorFunc) Predict(ctx context.Context, state *AgentState) (Prediction, error) {
	return f(ctx, state)
}

// sequencePredictor returns its replies in order and then keeps returning
// the last one.
type sequencePredictor struct {
	mu      sync.Mutex
	replies []predictorReply
	calls   int
}

type predictorReply struct {
	pred Prediction
	err  error
}

func (s *sequencePredictor) Predict(context.Context, *AgentState) (Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	s.calls++
	return s.replies[i].pred, s.replies[i].err
}

// -- Checkpoints, recording and operators --

type memoryCheckpoints struct {
	mu    sync.Mutex
	saved map[string]Checkpoint
	saves int
}

func newMemoryCheckpoints() *memoryCheckpoints {
	return &memoryCheckpoints{saved: map[string]Checkpoint{}}
}

func (m *memoryCheckpoints) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.saved[cp.RunID] = cp
	return nil
}

func (m *memoryCheckpoints) Load(_ context.Context, runID string) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.saved[runID]
	if !ok {
		return Checkpoint{}, ErrCheckpointMiss
	}
	return cp, nil
}

func (m *memoryCheckpoints) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, runID)
	return nil
}

type captureRecorder struct {
	mu      sync.Mutex
	records []StepRecord
}

func (c *captureRecorder) Record(_ context.Context, rec StepRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureRecorder) Records() []StepRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StepRecord(nil), c.records...)
}

// scriptedOperator answers interrupts from a fixed list.
type scriptedOperator struct {
	mu      sync.Mutex
	answers []string
	asked   []InterruptMessage
}

func (s *scriptedOperator) Ask(_ context.Context, msg InterruptMessage) (ResumeCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, msg)
	if len(s.answers) == 0 {
		return ResumeCommand{}, nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return ResumeCommand{Value: a}, nil
}

// blockingOperator never answers.
type blockingOperator struct{}

func (blockingOperator) Ask(ctx context.Context, _ InterruptMessage) (ResumeCommand, error) {
	<-ctx.Done()
	return ResumeCommand{}, ctx.Err()
}

// -- Helpers --

func testExecutor(t *testing.T) (*Executor, *[]time.Duration) {
	t.Helper()
	e := NewExecutor(ExecutorConfig{
		NavigationWindow: time.Second,
		SettleDelay:      time.Second,
		WaitDuration:     2 * time.Second,
		PostLoadWait:     2 * time.Second,
		WindowScroll:     500,
		ElementScroll:    200,
		SearchURL:        "https://www.google.com/",
		SelectAll:        "Control+A",
	}, zap.NewNop())
	var mu sync.Mutex
	slept := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*slept = append(*slept, d)
		return nil
	}
	return e, slept
}

func testBoxes() []schemas.BoundingBox {
	return []schemas.BoundingBox{
		{ID: "0", X: 10, Y: 20, ElementType: "a", Text: "Home"},
		{ID: "3", X: 110, Y: 220, ElementType: "button", Text: "Search", AriaLabel: "Google Search"},
		{ID: "4", X: 300, Y: 40, ElementType: "textarea", Text: ""},
	}
}

func pred(action ActionKind, args ...string) Prediction {
	return Prediction{Action: action, Args: args}
}
