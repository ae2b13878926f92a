package annotator

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// fakePage answers mark calls from a queue of canned results.
type fakePage struct {
	marks       []interface{} // []schemas.BoundingBox or error, one per mark call
	frames      map[string][]schemas.BoundingBox
	frameErr    error
	shot        []byte
	shotErr     error
	scripts     []string
	frameCalls  []string
	unmarkCalls int
}

func (p *fakePage) WaitReady(context.Context) error { return nil }

func (p *fakePage) Evaluate(_ context.Context, script string, res interface{}) error {
	p.scripts = append(p.scripts, script)
	switch {
	case strings.HasPrefix(script, "window.__webpilot.mark"):
		if len(p.marks) == 0 {
			return decode([]schemas.BoundingBox{}, res)
		}
		next := p.marks[0]
		p.marks = p.marks[1:]
		if err, ok := next.(error); ok {
			return err
		}
		return decode(next, res)
	case strings.Contains(script, "unmark()"):
		p.unmarkCalls++
		return decode(true, res)
	}
	return nil
}

func (p *fakePage) EvaluateInFrame(_ context.Context, src, script string, res interface{}) error {
	p.frameCalls = append(p.frameCalls, src)
	if p.frameErr != nil {
		return p.frameErr
	}
	return decode(p.frames[src], res)
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return p.shot, p.shotErr }

func (p *fakePage) CurrentURL(context.Context) (string, error) { return "https://example.com/", nil }

func decode(v interface{}, res interface{}) error {
	if res == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, res)
}

func noSleep(calls *[]time.Duration) Option {
	return withSleep(func(_ context.Context, d time.Duration) error {
		*calls = append(*calls, d)
		return nil
	})
}

func TestAnnotateAssignsSequentialIDs(t *testing.T) {
	page := &fakePage{
		marks: []interface{}{[]schemas.BoundingBox{
			{X: 10, Y: 10, ElementType: "a", Text: "Home"},
			{X: 50, Y: 10, ElementType: "button", AriaLabel: "Search"},
		}},
		shot: []byte("png-bytes"),
	}
	a := New(page, zaptest.NewLogger(t))

	ann, err := a.Annotate(context.Background())
	require.NoError(t, err)
	require.Len(t, ann.BBoxes, 2)
	assert.Equal(t, "0", ann.BBoxes[0].ID)
	assert.Equal(t, "1", ann.BBoxes[1].ID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), ann.Screenshot)
	assert.Equal(t, "https://example.com/", ann.URL)
	assert.Equal(t, markPageJS, page.scripts[0], "the marking script is injected before marking")
}

func TestAnnotateRetriesWithIncreasingBackoff(t *testing.T) {
	page := &fakePage{
		marks: []interface{}{
			errors.New("Execution context was destroyed"),
			[]schemas.BoundingBox{},
			[]schemas.BoundingBox{{X: 1, Y: 1, ElementType: "input"}},
		},
	}
	var waits []time.Duration
	a := New(page, zaptest.NewLogger(t), WithBackoff(time.Second), noSleep(&waits))

	ann, err := a.Annotate(context.Background())
	require.NoError(t, err)
	assert.Len(t, ann.BBoxes, 1)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestAnnotateDegradesGracefully(t *testing.T) {
	boom := errors.New("Cannot find context with specified id")
	page := &fakePage{
		marks:   []interface{}{boom, boom, boom},
		shotErr: errors.New("target closed"),
	}
	failures := 0
	var waits []time.Duration
	a := New(page, zaptest.NewLogger(t), noSleep(&waits), WithFailureHook(func() { failures++ }))

	ann, err := a.Annotate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ann.BBoxes)
	assert.Empty(t, ann.Screenshot)
	assert.Equal(t, 1, failures)
	assert.Len(t, waits, 2, "no wait after the final attempt")
}

func TestAnnotateEmptyPageIsNotAFailure(t *testing.T) {
	page := &fakePage{shot: []byte("x")}
	failures := 0
	var waits []time.Duration
	a := New(page, zaptest.NewLogger(t), WithAttempts(2), noSleep(&waits), WithFailureHook(func() { failures++ }))

	ann, err := a.Annotate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ann.BBoxes)
	assert.NotEmpty(t, ann.Screenshot)
	assert.Zero(t, failures)
}

func TestAnnotateMergesFrames(t *testing.T) {
	page := &fakePage{
		marks: []interface{}{[]schemas.BoundingBox{
			{X: 5, Y: 5, ElementType: "a", Text: "Top"},
			{X: 200, Y: 300, ElementType: "iframe", Src: "https://example.com/embed"},
			{X: 400, Y: 300, ElementType: "iframe", Src: "https://ads.example.net/slot"},
		}},
		frames: map[string][]schemas.BoundingBox{
			"https://example.com/embed": {
				{X: 210, Y: 310, ElementType: "button", Text: "Play"},
				{X: 260, Y: 310, ElementType: "input"},
			},
		},
	}
	a := New(page, zaptest.NewLogger(t))

	ann, err := a.Annotate(context.Background())
	require.NoError(t, err)
	require.Len(t, ann.BBoxes, 5)
	for i, b := range ann.BBoxes {
		assert.Equal(t, string(rune('0'+i)), b.ID)
	}
	assert.Equal(t, "Play", ann.BBoxes[3].Text)
	assert.Equal(t, []string{"https://example.com/embed", "https://ads.example.net/slot"}, page.frameCalls)

	require.NoError(t, a.Unmark(context.Background()))
	assert.Equal(t, 1, page.unmarkCalls)
	assert.Equal(t, "https://example.com/embed", page.frameCalls[len(page.frameCalls)-1], "only frames that were marked are unmarked")
}

func TestAnnotateSkipsFailingFrames(t *testing.T) {
	page := &fakePage{
		marks: []interface{}{[]schemas.BoundingBox{
			{X: 200, Y: 300, ElementType: "iframe", Src: "https://example.com/embed"},
		}},
		frameErr: errors.New("Blocked a frame with origin"),
	}
	a := New(page, zaptest.NewLogger(t))

	ann, err := a.Annotate(context.Background())
	require.NoError(t, err)
	require.Len(t, ann.BBoxes, 1)
	assert.Equal(t, "iframe", ann.BBoxes[0].ElementType)
}

func TestAnnotateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &fakePage{marks: []interface{}{context.Canceled}}

	_, err := New(page, zaptest.NewLogger(t)).Annotate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
