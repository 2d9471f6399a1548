package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victor-kironde/vk-reminder-bot/internal/models"
	"github.com/victor-kironde/vk-reminder-bot/internal/store"
)

// Prompt and notice texts.
const (
	choicePromptText  = "How may I help you? (Set Reminder / Show All Reminders / Exit)"
	choiceRetryText   = "Sorry, I didn't get that. Please choose: Set Reminder, Show All Reminders or Exit."
	titlePromptText   = "What would you like me to remind you about?"
	timePromptText    = "When should I remind you?"
	timeRetryText     = "Please enter a valid time:"
	confirmPromptText = "I have set the reminder.\nWould you like to do anything else?"
	confirmRetryText  = "Please answer yes or no."
	cancelledText     = "Cancelled."
	exitText          = "Bye!"
	closingText       = "Okay, bye!."
)

// dialogStep identifies the waterfall step currently awaiting input.
type dialogStep int

const (
	stepChoice dialogStep = iota
	stepTitle
	stepTime
	stepConfirm
)

// session is the per-conversation dialog state. It lives from the first
// prompt until the waterfall completes or is cancelled.
type session struct {
	step  dialogStep
	draft models.Reminder
}

// Dialog drives the five-step reminder waterfall: Choice, Title, Time,
// Confirm, Save. An interrupt layer (help/cancel) is evaluated before any
// step consumes input.
type Dialog struct {
	store   *store.ReminderStore
	adapter Adapter
	now     func() time.Time
	out     io.Writer

	// mu serializes turn handling. Steps of one conversation never run
	// concurrently, and the sessions map stays safe when turns arrive from
	// both the HTTP endpoint and a platform adapter.
	mu       sync.Mutex
	sessions map[string]*session // key: conversation ID
}

// DialogOpts holds parameters for creating a Dialog.
type DialogOpts struct {
	Store   *store.ReminderStore
	Adapter Adapter
	Now     func() time.Time // defaults to time.Now
	Out     io.Writer        // defaults to os.Stdout
}

// NewDialog creates a Dialog.
func NewDialog(opts DialogOpts) (*Dialog, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: dialog: store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: dialog: adapter is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Dialog{
		store:    opts.Store,
		adapter:  opts.Adapter,
		now:      now,
		out:      out,
		sessions: make(map[string]*session),
	}, nil
}

// HasSession reports whether a waterfall is active for the conversation.
func (d *Dialog) HasSession(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[conversationID]
	return ok
}

// Begin starts a fresh waterfall for the conversation and sends the choice
// prompt. A no-op if a session is already active.
func (d *Dialog) Begin(ctx context.Context, ref ConversationRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begin(ctx, ref)
}

func (d *Dialog) begin(ctx context.Context, ref ConversationRef) {
	if _, ok := d.sessions[ref.ConversationID]; ok {
		return
	}
	d.sessions[ref.ConversationID] = &session{step: stepChoice}
	d.sendText(ctx, ref, choicePromptText)
}

// Continue feeds one user message into the conversation's waterfall. With no
// active session the message starts a new waterfall; its text is not consumed
// as step input. With an active session the interrupt layer runs first, then
// the current step.
func (d *Dialog) Continue(ctx context.Context, ref ConversationRef, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[ref.ConversationID]
	if !ok {
		fmt.Fprintf(d.out, "bot: dialog: begin [conv=%s user=%s]\n", ref.ConversationID, ref.UserName)
		d.begin(ctx, ref)
		return
	}

	if d.interrupt(ctx, ref, text) {
		fmt.Fprintf(d.out, "bot: dialog: interrupt [conv=%s] %q\n", ref.ConversationID, text)
		return
	}

	switch sess.step {
	case stepChoice:
		d.choiceStep(ctx, ref, sess, text)
	case stepTitle:
		d.titleStep(ctx, ref, sess, text)
	case stepTime:
		d.timeStep(ctx, ref, sess, text)
	case stepConfirm:
		d.confirmStep(ctx, ref, sess, text)
	}
}

// interrupt handles help and cancel commands. Help leaves the waterfall
// suspended at its current step; cancel unwinds it entirely. Returns true
// when the input was consumed.
func (d *Dialog) interrupt(ctx context.Context, ref ConversationRef, text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "help", "?":
		d.sendCard(ctx, ref, HelpCard())
		return true
	case "cancel", "quit":
		d.sendText(ctx, ref, cancelledText)
		delete(d.sessions, ref.ConversationID)
		return true
	}
	return false
}

// choiceStep routes the three top-level options.
func (d *Dialog) choiceStep(ctx context.Context, ref ConversationRef, sess *session, text string) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "set reminder":
		sess.draft = models.Reminder{ID: uuid.NewString(), Owner: ref.UserID}
		sess.step = stepTitle
		d.sendText(ctx, ref, titlePromptText)

	case "show all reminders":
		d.showReminders(ctx, ref)
		delete(d.sessions, ref.ConversationID)

	case "exit":
		d.sendText(ctx, ref, exitText)
		delete(d.sessions, ref.ConversationID)

	default:
		d.sendText(ctx, ref, choiceRetryText)
	}
}

// titleStep accepts any non-empty text as the reminder title.
func (d *Dialog) titleStep(ctx context.Context, ref ConversationRef, sess *session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		d.sendText(ctx, ref, titlePromptText)
		return
	}
	sess.draft.Title = text
	sess.step = stepTime
	d.sendText(ctx, ref, timePromptText)
}

// timeStep normalizes the reminder time, re-prompting until input parses.
func (d *Dialog) timeStep(ctx context.Context, ref ConversationRef, sess *session, text string) {
	when, err := ParseReminderTime(text, d.now())
	if err != nil {
		d.sendText(ctx, ref, timeRetryText)
		return
	}
	sess.draft.Time = when
	sess.step = stepConfirm
	d.sendCard(ctx, ref, ReminderCard(sess.draft))
	d.sendText(ctx, ref, confirmPromptText)
}

// confirmStep saves the reminder and either restarts the waterfall or ends
// the conversation. The save happens regardless of the answer; a storage
// failure is surfaced as a chat message and the flow continues.
func (d *Dialog) confirmStep(ctx context.Context, ref ConversationRef, sess *session, text string) {
	again, err := parseYesNo(text)
	if err != nil {
		d.sendText(ctx, ref, confirmRetryText)
		return
	}

	if err := d.store.Append(ctx, sess.draft); err != nil {
		d.sendText(ctx, ref, fmt.Sprintf("Sorry, something went wrong storing your message! %v", err))
	}

	if again {
		sess.step = stepChoice
		sess.draft = models.Reminder{}
		d.sendText(ctx, ref, choicePromptText)
		return
	}
	d.sendText(ctx, ref, closingText)
	delete(d.sessions, ref.ConversationID)
}

// showReminders renders every stored reminder as a card.
func (d *Dialog) showReminders(ctx context.Context, ref ConversationRef) {
	reminderLog, err := d.store.Log(ctx)
	if err != nil {
		d.sendText(ctx, ref, fmt.Sprintf("Sorry, something went wrong reading your reminders! %v", err))
		return
	}
	for _, r := range reminderLog.Reminders {
		d.sendCard(ctx, ref, ReminderCard(r))
	}
}

// parseYesNo interprets a confirmation answer.
func parseYesNo(text string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay":
		return true, nil
	case "no", "n", "nope", "nah":
		return false, nil
	}
	return false, fmt.Errorf("bot: not a yes/no answer: %q", text)
}

// sendText sends a plain message to the conversation. Send failures are
// logged, never escalated.
func (d *Dialog) sendText(ctx context.Context, ref ConversationRef, text string) {
	err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID:      ref.ChannelID,
		ConversationID: ref.ConversationID,
		Text:           text,
	})
	if err != nil {
		log.Printf("bot: send to %s: %v", ref.ConversationID, err)
	}
}

// sendCard sends a card attachment to the conversation.
func (d *Dialog) sendCard(ctx context.Context, ref ConversationRef, card Card) {
	err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID:      ref.ChannelID,
		ConversationID: ref.ConversationID,
		Cards:          []Card{card},
	})
	if err != nil {
		log.Printf("bot: send card to %s: %v", ref.ConversationID, err)
	}
}
