// Package trigger periodically wakes the delivery sweep by calling the
// notify endpoint. Best-effort: failures are logged, never escalated.
package trigger

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Trigger is the periodic self-call pulse.
type Trigger struct {
	url      string
	interval time.Duration
	client   *http.Client
	out      io.Writer
}

// Opts holds parameters for creating a Trigger.
type Opts struct {
	URL      string
	Interval time.Duration // defaults to one minute
	Client   *http.Client  // defaults to a client with a short timeout
	Out      io.Writer     // defaults to os.Stdout
}

// New creates a Trigger.
func New(opts Opts) (*Trigger, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("trigger: url is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Trigger{url: opts.URL, interval: interval, client: client, out: out}, nil
}

// Run pulses the notify endpoint on the configured interval until the
// context is cancelled.
func (t *Trigger) Run(ctx context.Context) error {
	fmt.Fprintf(t.out, "trigger: pulsing %s every %s\n", t.url, t.interval)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.pulse(ctx)
		}
	}
}

// pulse performs one GET against the notify endpoint.
func (t *Trigger) pulse(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		log.Printf("trigger: build request: %v", err)
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("trigger: pulse %s: %v", t.url, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("trigger: pulse %s: unexpected status %d", t.url, resp.StatusCode)
	}
}
