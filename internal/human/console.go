// internal/human/console.go
package human

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// ConsoleChannel asks the operator on a terminal.
type ConsoleChannel struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string
	err   error
}

func NewConsoleChannel(in io.Reader, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{in: in, out: out}
}

// readLines runs once for the channel's lifetime. Reads from a terminal
// cannot be interrupted, so cancelling Ask leaves the reader in place for
// the next question.
func (c *ConsoleChannel) readLines() {
	c.lines = make(chan string)
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
		c.err = scanner.Err()
	}()
}

func (c *ConsoleChannel) Ask(ctx context.Context, msg agent.InterruptMessage) (agent.ResumeCommand, error) {
	c.once.Do(c.readLines)

	fmt.Fprintf(c.out, "\n[step %d] %s\n", msg.Step, msg.Description)
	if msg.URL != "" {
		fmt.Fprintf(c.out, "Page: %s\n", msg.URL)
	}
	fmt.Fprint(c.out, "Press Enter to approve, type alternative instructions or an element id, or 'exit' to stop: ")

	select {
	case line, ok := <-c.lines:
		if !ok {
			if c.err != nil {
				return agent.ResumeCommand{}, fmt.Errorf("reading operator input: %w", c.err)
			}
			return agent.ResumeCommand{}, errors.New("operator input closed")
		}
		return agent.ResumeCommand{Value: strings.TrimSpace(line)}, nil
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return agent.ResumeCommand{}, ctx.Err()
	}
}
