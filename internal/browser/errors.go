// internal/browser/errors.go
package browser

import "errors"

var (
	ErrSessionClosed = errors.New("browser session is not open")
	// ErrSessionPinned is returned by Close while a suspended run still needs the page.
	ErrSessionPinned = errors.New("browser session is pinned by a suspended run")
)
