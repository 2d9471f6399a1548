package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"

	"github.com/victor-kironde/vk-reminder-bot/internal/store"
)

// Greeting texts sent on a user's first contact.
const (
	helloText = "Hello %s!"
	introText = "I'm Reminder Bot."
)

// Bot wires the turn handlers together: it captures conversation references,
// welcomes first-contact users, and feeds messages into the dialog.
type Bot struct {
	dialog   *Dialog
	store    *store.ReminderStore
	registry *Registry
	adapter  Adapter
	out      io.Writer
}

// BotOpts holds parameters for creating a Bot.
type BotOpts struct {
	Dialog   *Dialog
	Store    *store.ReminderStore
	Registry *Registry
	Adapter  Adapter
	Out      io.Writer // defaults to os.Stdout
}

// New creates a Bot.
func New(opts BotOpts) (*Bot, error) {
	if opts.Dialog == nil {
		return nil, fmt.Errorf("bot: dialog is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("bot: registry is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Bot{
		dialog:   opts.Dialog,
		store:    opts.Store,
		registry: opts.Registry,
		adapter:  opts.Adapter,
		out:      out,
	}, nil
}

// OnMessage handles one inbound user message: registers the conversation
// reference, greets first-contact users, and advances the dialog.
func (b *Bot) OnMessage(ctx context.Context, msg InboundMessage) {
	defer b.recoverTurn(ctx, msg)

	ref := refFromInbound(msg)
	b.registry.Register(ref)
	b.welcome(ctx, ref)
	b.dialog.Continue(ctx, ref, msg.Text)
}

// OnConversationUpdate handles a conversation-update event (e.g. a member
// joining): registers the reference, greets the user, and starts the dialog.
func (b *Bot) OnConversationUpdate(ctx context.Context, msg InboundMessage) {
	defer b.recoverTurn(ctx, msg)

	ref := refFromInbound(msg)
	b.registry.Register(ref)
	b.welcome(ctx, ref)
	b.dialog.Begin(ctx, ref)
}

// Run pumps inbound messages from the adapter into OnMessage until the
// context is cancelled or the adapter closes its channel.
func (b *Bot) Run(ctx context.Context) error {
	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("bot: listen: %w", err)
	}
	fmt.Fprintf(b.out, "Reminder Bot online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(b.out, "Reminder Bot shutting down\n")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(b.out, "Reminder Bot inbound channel closed\n")
				return nil
			}
			b.OnMessage(ctx, msg)
		}
	}
}

// welcome greets a user exactly once across the process and store lifetime.
func (b *Bot) welcome(ctx context.Context, ref ConversationRef) {
	done, err := b.store.DidWelcome(ctx, ref.UserID)
	if err != nil {
		log.Printf("bot: welcome state for %s: %v", ref.UserID, err)
		return
	}
	if done {
		return
	}
	if err := b.store.SetWelcomed(ctx, ref.UserID); err != nil {
		log.Printf("bot: set welcomed for %s: %v", ref.UserID, err)
	}
	b.send(ctx, ref, fmt.Sprintf(helloText, ref.UserName))
	b.send(ctx, ref, introText)
}

// recoverTurn contains any panic raised while processing a turn: the user
// gets a generic failure message, the stack goes to the log, and the process
// keeps running.
func (b *Bot) recoverTurn(ctx context.Context, msg InboundMessage) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("bot: turn error [conv=%s user=%s]: %v\n%s",
		msg.ConversationID, msg.UserID, r, debug.Stack())
	b.send(ctx, refFromInbound(msg), "The bot encountered an error or bug.")
}

func (b *Bot) send(ctx context.Context, ref ConversationRef, text string) {
	err := b.adapter.Send(ctx, OutboundMessage{
		ChannelID:      ref.ChannelID,
		ConversationID: ref.ConversationID,
		Text:           text,
	})
	if err != nil {
		log.Printf("bot: send to %s: %v", ref.ConversationID, err)
	}
}

// refFromInbound builds the proactive-delivery handle for a message's
// conversation.
func refFromInbound(msg InboundMessage) ConversationRef {
	return ConversationRef{
		Platform:       msg.Platform,
		ChannelID:      msg.ChannelID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		UserName:       msg.UserName,
	}
}
