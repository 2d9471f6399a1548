// Package scheduler delivers due reminders to their originating conversations.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/victor-kironde/vk-reminder-bot/internal/bot"
	"github.com/victor-kironde/vk-reminder-bot/internal/store"
)

// DefaultCron fires a delivery sweep once per minute, matching the minute
// granularity of stored reminder times.
const DefaultCron = "* * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler is the single global delivery task. One instance sweeps all
// registered conversations per tick and stops when its context is cancelled.
type Scheduler struct {
	store    *store.ReminderStore
	registry *bot.Registry
	adapter  bot.Adapter
	cronSpec string
	now      func() time.Time
	out      io.Writer
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Store    *store.ReminderStore
	Registry *bot.Registry
	Adapter  bot.Adapter
	Cron     string           // defaults to DefaultCron
	Now      func() time.Time // defaults to time.Now
	Out      io.Writer        // defaults to os.Stdout
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("scheduler: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("scheduler: registry is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("scheduler: adapter is required")
	}
	spec := opts.Cron
	if spec == "" {
		spec = DefaultCron
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("scheduler: parse cron %q: %w", spec, err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Scheduler{
		store:    opts.Store,
		registry: opts.Registry,
		adapter:  opts.Adapter,
		cronSpec: spec,
		now:      now,
		out:      out,
	}, nil
}

// Sweep runs one delivery pass: reads due reminders, sends each to its
// owner's registered conversation, and marks successful sends as delivered.
// Store-read and delivery failures are logged and never stop the pass.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scheduler: read due reminders: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var delivered []string
	for _, r := range due {
		ref, ok := s.registry.Lookup(r.Owner)
		if !ok {
			log.Printf("scheduler: no conversation reference for %s, skipping %q", r.Owner, r.Title)
			continue
		}
		err := s.adapter.Send(ctx, bot.OutboundMessage{
			ChannelID:      ref.ChannelID,
			ConversationID: ref.ConversationID,
			Text:           fmt.Sprintf("Reminder: %s", r.Title),
			Cards:          []bot.Card{bot.ReminderCard(r)},
		})
		if err != nil {
			log.Printf("scheduler: deliver %q to %s: %v", r.Title, ref.ConversationID, err)
			continue
		}
		delivered = append(delivered, r.ID)
	}

	if err := s.store.MarkDelivered(ctx, delivered); err != nil {
		log.Printf("scheduler: mark delivered: %v", err)
	}
	if len(delivered) > 0 {
		fmt.Fprintf(s.out, "scheduler: delivered %d reminder(s) at %s\n",
			len(delivered), now.Format("15:04"))
	}
	return len(delivered), nil
}

// Run fires Sweep on the configured cron schedule until the context is
// cancelled. A failed sweep is logged; the loop never exits on one.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := cronParser.Parse(s.cronSpec)
	if err != nil {
		return fmt.Errorf("scheduler: parse cron %q: %w", s.cronSpec, err)
	}

	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("scheduler: sweep: %v", err)
			}
			timer.Reset(time.Until(sched.Next(time.Now())))
		}
	}
}
