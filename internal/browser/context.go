// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of tab (the
// chromedp target) and is canceled as soon as either tab or op is done. Every
// CDP call goes through this so a caller's deadline never loses the target.
func CombineContext(tab, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

type detachedContext struct{ context.Context }

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }

// Detach keeps the values of ctx but drops its deadline and cancellation.
// Used for cleanup, such as removing overlays after the step context ended.
func Detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}
