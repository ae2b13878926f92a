// internal/human/channel.go
package human

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// New returns the channel named by kind. The websocket channel must still
// be mounted on an HTTP server by the caller.
func New(kind string, in io.Reader, out io.Writer, logger *zap.Logger) (agent.HumanChannel, error) {
	switch kind {
	case "", "console":
		return NewConsoleChannel(in, out), nil
	case "websocket":
		return NewWebSocketChannel(logger), nil
	default:
		return nil, fmt.Errorf("unknown human channel %q", kind)
	}
}
