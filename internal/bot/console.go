package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleAdapter writes outbound messages to a writer and never produces
// inbound ones. It is the fallback when no chat platform is configured, so
// the HTTP endpoint can run standalone.
type ConsoleAdapter struct {
	out io.Writer

	mu      sync.Mutex
	closed  bool
	inbound chan InboundMessage
}

// NewConsoleAdapter creates a ConsoleAdapter writing to out (default os.Stdout).
func NewConsoleAdapter(out io.Writer) *ConsoleAdapter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleAdapter{out: out, inbound: make(chan InboundMessage)}
}

// Connect is a no-op.
func (c *ConsoleAdapter) Connect(ctx context.Context) error { return nil }

// Listen returns a channel that only closes on Close; the console has no
// inbound messages.
func (c *ConsoleAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	return c.inbound, nil
}

// Send prints the message to the configured writer.
func (c *ConsoleAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("console adapter: closed")
	}
	if msg.Text != "" {
		fmt.Fprintf(c.out, "[%s] %s\n", msg.ConversationID, msg.Text)
	}
	for _, card := range msg.Cards {
		fmt.Fprintf(c.out, "[%s] %s (%s)\n", msg.ConversationID, card.Title, card.Body)
	}
	return nil
}

// Close closes the inbound channel.
func (c *ConsoleAdapter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.inbound)
	return nil
}
