// Package annotator labels the interactive elements of the current page and
// captures the screenshot the predictor reasons over.
package annotator

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

//go:embed mark_page.js
var markPageJS string

// Page is the part of the browser session the annotator needs.
type Page interface {
	WaitReady(ctx context.Context) error
	Evaluate(ctx context.Context, script string, res interface{}) error
	EvaluateInFrame(ctx context.Context, frameSrc, script string, res interface{}) error
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
}

var errNoElements = errors.New("scan returned no elements")

// Annotator runs the marking script with retries and stitches frame results
// into one numbered set.
type Annotator struct {
	page      Page
	logger    *zap.Logger
	attempts  int
	backoff   time.Duration
	readyWait time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	onFailure func()

	// Frames marked by the last pass, so Unmark can clean them too.
	frames []string
}

type Option func(*Annotator)

// WithAttempts sets how many scans are tried before giving up.
func WithAttempts(n int) Option {
	return func(a *Annotator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithBackoff sets the base delay. Attempt n waits n times this long.
func WithBackoff(d time.Duration) Option {
	return func(a *Annotator) { a.backoff = d }
}

// WithFailureHook is called once for every pass that exhausts its attempts.
func WithFailureHook(fn func()) Option {
	return func(a *Annotator) { a.onFailure = fn }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Annotator) { a.sleep = fn }
}

func New(page Page, logger *zap.Logger, opts ...Option) *Annotator {
	a := &Annotator{
		page:      page,
		logger:    logger.Named("annotator"),
		attempts:  3,
		backoff:   time.Second,
		readyWait: 5 * time.Second,
		sleep:     sleepCtx,
		onFailure: func() {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Annotate labels the page and returns the boxes together with a screenshot.
// Scan failures are not returned: after the last attempt the result simply
// has no boxes. Only a canceled context produces an error.
func (a *Annotator) Annotate(ctx context.Context) (schemas.Annotation, error) {
	var (
		boxes []schemas.BoundingBox
		err   error
	)
	for attempt := 1; attempt <= a.attempts; attempt++ {
		boxes, err = a.scan(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return schemas.Annotation{}, ctx.Err()
		}
		a.logger.Debug("Annotation attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < a.attempts {
			if serr := a.sleep(ctx, a.backoff*time.Duration(attempt)); serr != nil {
				return schemas.Annotation{}, serr
			}
		}
	}
	if err != nil {
		if errors.Is(err, errNoElements) {
			a.logger.Info("No interactive elements found on page.")
		} else {
			a.logger.Warn("Annotation failed, continuing without elements.", zap.Int("attempts", a.attempts), zap.Error(err))
			a.onFailure()
		}
		boxes = nil
	}

	out := schemas.Annotation{BBoxes: boxes}
	if shot, serr := a.page.Screenshot(ctx); serr != nil {
		a.logger.Warn("Screenshot failed.", zap.Error(serr))
	} else {
		out.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}
	if url, uerr := a.page.CurrentURL(ctx); uerr == nil {
		out.URL = url
	}
	return out, nil
}

// scan runs one marking pass over the main frame and every sourced iframe.
func (a *Annotator) scan(ctx context.Context) ([]schemas.BoundingBox, error) {
	readyCtx, cancel := context.WithTimeout(ctx, a.readyWait)
	err := a.page.WaitReady(readyCtx)
	cancel()
	if err != nil && ctx.Err() == nil {
		// Slow pages are still worth scanning.
		a.logger.Debug("Page not ready before scan.", zap.Error(err))
	}

	if err := a.page.Evaluate(ctx, markPageJS, nil); err != nil {
		return nil, fmt.Errorf("inject marking script: %w", err)
	}
	var boxes []schemas.BoundingBox
	if err := a.page.Evaluate(ctx, "window.__webpilot.mark(0)", &boxes); err != nil {
		return nil, fmt.Errorf("mark page: %w", err)
	}

	a.frames = a.frames[:0]
	mainCount := len(boxes)
	for i := 0; i < mainCount; i++ {
		src := boxes[i].Src
		if boxes[i].ElementType != "iframe" || src == "" {
			continue
		}
		var inner []schemas.BoundingBox
		script := fmt.Sprintf("%s\nwindow.__webpilot.mark(%d)", markPageJS, len(boxes))
		if err := a.page.EvaluateInFrame(ctx, src, script, &inner); err != nil {
			a.logger.Debug("Skipping frame.", zap.String("src", src), zap.Error(err))
			continue
		}
		if len(inner) > 0 {
			a.frames = append(a.frames, src)
			boxes = append(boxes, inner...)
		}
	}

	if len(boxes) == 0 {
		return nil, errNoElements
	}
	for i := range boxes {
		boxes[i].ID = strconv.Itoa(i)
	}
	return boxes, nil
}

// Unmark removes the overlays drawn by the last pass.
func (a *Annotator) Unmark(ctx context.Context) error {
	const script = "window.__webpilot ? window.__webpilot.unmark() : true"
	var ok bool
	if err := a.page.Evaluate(ctx, script, &ok); err != nil {
		return fmt.Errorf("unmark page: %w", err)
	}
	for _, src := range a.frames {
		var res []interface{}
		if err := a.page.EvaluateInFrame(ctx, src, script+" && []", &res); err != nil {
			a.logger.Debug("Frame unmark failed.", zap.String("src", src), zap.Error(err))
		}
	}
	return nil
}
