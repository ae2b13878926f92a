// internal/human/websocket.go
package human

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// Message types on the operator socket.
const (
	TypeInterrupt = "interrupt"
	TypeResume    = "resume"
)

// Envelope is the frame exchanged with the operator UI.
type Envelope struct {
	Type string                  `json:"type"`
	Data *agent.InterruptMessage `json:"data,omitempty"`
	// Value carries the operator's answer on resume frames.
	Value string `json:"value,omitempty"`
}

// WebSocketChannel serves a single operator connection and relays
// interrupts to it. A newer connection replaces an older one. An
// unanswered interrupt is resent when the operator reconnects.
type WebSocketChannel struct {
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   chan struct{}
	pending *agent.InterruptMessage
	// sentTo is the connection the pending interrupt was last written to.
	sentTo  *websocket.Conn
	answers chan agent.ResumeCommand
}

func NewWebSocketChannel(logger *zap.Logger) *WebSocketChannel {
	return &WebSocketChannel{
		logger:  logger.Named("human_ws"),
		ready:   make(chan struct{}),
		answers: make(chan agent.ResumeCommand, 1),
	}
}

// ServeHTTP upgrades the request and reads resume frames until the
// operator disconnects.
func (c *WebSocketChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		c.logger.Warn("Operator websocket upgrade failed.", zap.Error(err))
		return
	}
	ctx := r.Context()

	c.mu.Lock()
	previous := c.conn
	c.conn = conn
	if previous == nil {
		close(c.ready)
	}
	pending := c.claimLocked(conn)
	c.mu.Unlock()
	if previous != nil {
		previous.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
	c.logger.Info("Operator connected.", zap.String("remote", r.RemoteAddr))

	defer c.drop(conn)

	if pending != nil {
		if err := wsjson.Write(ctx, conn, Envelope{Type: TypeInterrupt, Data: pending}); err != nil {
			c.logger.Warn("Failed to resend pending interrupt.", zap.Error(err))
			return
		}
	}

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				c.logger.Debug("Operator connection closed.", zap.Error(err))
			}
			return
		}
		if env.Type != TypeResume {
			c.logger.Debug("Ignoring operator frame.", zap.String("type", env.Type))
			continue
		}

		c.mu.Lock()
		waiting := c.pending != nil
		if waiting {
			c.pending = nil
		}
		c.mu.Unlock()
		if !waiting {
			c.logger.Warn("Operator answered with nothing pending.", zap.String("value", env.Value))
			continue
		}
		c.answers <- agent.ResumeCommand{Value: env.Value}
	}
}

// claimLocked returns the pending interrupt if it still has to be written
// to conn, and marks it as written. Whoever claims it does the write, so an
// operator never sees the same question twice. c.mu must be held.
func (c *WebSocketChannel) claimLocked(conn *websocket.Conn) *agent.InterruptMessage {
	if c.pending == nil || conn == nil || c.sentTo == conn {
		return nil
	}
	c.sentTo = conn
	return c.pending
}

func (c *WebSocketChannel) drop(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.ready = make(chan struct{})
	conn.CloseNow()
}

// Ask sends the interrupt to the connected operator, waiting for one to
// connect if needed, and blocks until they answer or ctx ends.
func (c *WebSocketChannel) Ask(ctx context.Context, msg agent.InterruptMessage) (agent.ResumeCommand, error) {
	// An answer that raced a cancelled Ask belongs to an old question.
	select {
	case <-c.answers:
	default:
	}

	c.mu.Lock()
	c.pending = &msg
	c.sentTo = nil
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending == &msg {
			c.pending = nil
			c.sentTo = nil
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		conn, ready := c.conn, c.ready
		claimed := c.claimLocked(conn)
		c.mu.Unlock()

		if conn != nil && claimed == nil {
			// The connection handler already delivered it.
			return c.await(ctx)
		}
		if conn == nil {
			c.logger.Info("Waiting for an operator to connect.", zap.String("run_id", msg.RunID))
			select {
			case <-ready:
				// The new connection resends the pending interrupt itself.
				return c.await(ctx)
			case <-ctx.Done():
				return agent.ResumeCommand{}, ctx.Err()
			}
		}

		if err := wsjson.Write(ctx, conn, Envelope{Type: TypeInterrupt, Data: &msg}); err != nil {
			if ctx.Err() != nil {
				return agent.ResumeCommand{}, ctx.Err()
			}
			c.logger.Warn("Failed to deliver interrupt, waiting for reconnect.", zap.Error(err))
			c.drop(conn)
			continue
		}
		return c.await(ctx)
	}
}

func (c *WebSocketChannel) await(ctx context.Context) (agent.ResumeCommand, error) {
	select {
	case cmd := <-c.answers:
		return cmd, nil
	case <-ctx.Done():
		return agent.ResumeCommand{}, ctx.Err()
	}
}

// Close disconnects the current operator.
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusGoingAway, "agent shutting down")
}
