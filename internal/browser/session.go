// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/browser/stealth"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Session owns one Chrome process and the single tab the agent drives.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	pins        int

	// Swappable so unit tests can run without a browser.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	listenFunc     func(ctx context.Context, fn func(ev interface{}))
}

// NewSession prepares a session. Nothing is launched until Open.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	s := &Session{
		cfg:        cfg,
		logger:     logger.Named("browser"),
		listenFunc: chromedp.ListenTarget,
	}
	s.runActionsFunc = s.run
	return s
}

// Open launches Chrome and checks the tab responds by loading about:blank.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCtx != nil {
		return nil
	}

	// The browser must outlive the caller's context, which is often a
	// request or command scoped one.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(Detach(ctx), AllocatorOptions(s.cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Debugf),
	)

	timeout := s.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	launchCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	launchCtx, cancelTimeout := context.WithTimeout(launchCtx, timeout)
	defer cancelTimeout()

	var launch chromedp.Tasks
	if s.cfg.Stealth {
		launch = append(launch, stealth.Apply(stealth.PersonaFrom(s.cfg), s.logger))
	}
	launch = append(launch, chromedp.Navigate("about:blank"))
	if err := chromedp.Run(launchCtx, launch); err != nil {
		cancelTab()
		cancelAlloc()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.tabCtx, s.cancelTab, s.cancelAlloc = tabCtx, cancelTab, cancelAlloc
	s.logger.Info("Browser launched.", zap.Bool("headless", s.cfg.Headless))
	return nil
}

// Pin keeps the session alive across a suspension. Close refuses to tear
// the browser down until every release func has been called.
func (s *Session) Pin() (release func()) {
	s.mu.Lock()
	s.pins++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.pins--
			s.mu.Unlock()
		})
	}
}

// Close shuts the browser down. It is a no-op on a closed session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins > 0 {
		return ErrSessionPinned
	}
	if s.tabCtx == nil {
		return nil
	}
	s.cancelTab()
	s.cancelAlloc()
	s.tabCtx, s.cancelTab, s.cancelAlloc = nil, nil, nil
	s.logger.Info("Browser closed.")
	return nil
}

func (s *Session) tab() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCtx == nil {
		return nil, ErrSessionClosed
	}
	return s.tabCtx, nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	tab, err := s.tab()
	if err != nil {
		return err
	}
	combined, cancel := CombineContext(tab, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

// RunActions executes chromedp actions against the tab, bounded by ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	return s.runActionsFunc(ctx, actions...)
}

// Goto loads url and waits for the load event, bounded by the navigation timeout.
func (s *Session) Goto(ctx context.Context, url string) error {
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := s.RunActions(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) GoBack(ctx context.Context) error {
	return s.RunActions(ctx, chromedp.NavigateBack())
}

// Click presses and releases the left button at viewport coordinates.
func (s *Session) Click(ctx context.Context, x, y float64) error {
	return s.RunActions(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
}

// Type sends text as key events to whatever has focus.
func (s *Session) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return s.RunActions(ctx, chromedp.KeyEvent(text))
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"backspace": kb.Backspace,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"delete":    kb.Delete,
}

var modifierBits = map[string]input.Modifier{
	"alt":     input.ModifierAlt,
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"meta":    input.ModifierMeta,
	"shift":   input.ModifierShift,
}

// parseCombo splits "Control+A" style chords into a key and modifier mask.
func parseCombo(combo string) (string, input.Modifier, error) {
	parts := strings.Split(combo, "+")
	var mods input.Modifier
	for _, p := range parts[:len(parts)-1] {
		bit, ok := modifierBits[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return "", 0, fmt.Errorf("unknown modifier %q in %q", p, combo)
		}
		mods |= bit
	}
	key := strings.TrimSpace(parts[len(parts)-1])
	if named, ok := namedKeys[strings.ToLower(key)]; ok {
		return named, mods, nil
	}
	if len([]rune(key)) != 1 {
		return "", 0, fmt.Errorf("unsupported key %q in %q", key, combo)
	}
	if mods != 0 {
		// Chords are matched on the lowercase key code.
		key = strings.ToLower(key)
	}
	return key, mods, nil
}

// Press sends a single key or chord such as "Enter" or "Control+A".
func (s *Session) Press(ctx context.Context, combo string) error {
	key, mods, err := parseCombo(combo)
	if err != nil {
		return err
	}
	if mods == 0 {
		return s.RunActions(ctx, chromedp.KeyEvent(key))
	}
	return s.RunActions(ctx, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods)))
}

// ScrollWindow scrolls the top level document by dy pixels.
func (s *Session) ScrollWindow(ctx context.Context, dy int) error {
	return s.RunActions(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil))
}

// WheelAt hovers (x, y) and spins the wheel, which scrolls whatever
// scrollable container sits under the pointer.
func (s *Session) WheelAt(ctx context.Context, x, y float64, dy int) error {
	return s.RunActions(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(float64(dy)),
	)
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Evaluate runs script in the top document and decodes its result into res.
// res may be nil.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.RunActions(ctx, chromedp.Evaluate(script, res))
}

// EvaluateInFrame runs script inside the same-origin iframe whose src is
// frameSrc. Cross-origin or missing frames yield an empty array.
func (s *Session) EvaluateInFrame(ctx context.Context, frameSrc, script string, res interface{}) error {
	wrapped := fmt.Sprintf(`(() => {
  const frame = Array.from(document.querySelectorAll('iframe')).find((f) => f.src === %q);
  if (!frame || !frame.contentWindow) { return []; }
  try { return frame.contentWindow.eval(%q) || []; } catch (e) { return []; }
})()`, frameSrc, script)
	return s.Evaluate(ctx, wrapped, res)
}

// WaitReady polls until the DOM is interactive or ctx ends.
func (s *Session) WaitReady(ctx context.Context) error {
	var ready bool
	return s.RunActions(ctx, chromedp.Poll(`document.readyState !== "loading"`, &ready,
		chromedp.WithPollingInterval(100*time.Millisecond)))
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.RunActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// WatchNavigation runs action and then waits up to window for the main frame
// to navigate. It reports whether a navigation was seen. Not seeing one is
// not an error.
func (s *Session) WatchNavigation(ctx context.Context, window time.Duration, action func(context.Context) error) (bool, error) {
	tab, err := s.tab()
	if err != nil {
		return false, err
	}

	navigated := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(tab)
	defer stopListening()
	s.listenFunc(listenCtx, func(ev interface{}) {
		if nav, ok := ev.(*page.EventFrameNavigated); ok && isMainFrame(nav.Frame) {
			select {
			case navigated <- struct{}{}:
			default:
			}
		}
	})

	if err := action(ctx); err != nil {
		return false, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-navigated:
		s.logger.Debug("Main frame navigated after action.")
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func isMainFrame(f *cdp.Frame) bool {
	return f != nil && f.ParentID == ""
}
