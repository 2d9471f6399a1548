// Package slack implements the bot Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/victor-kironde/vk-reminder-bot/internal/bot"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// cardColor is the attachment sidebar color for reminder cards.
const cardColor = "#2196f3"

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements bot.Adapter for Slack Socket Mode.
type Adapter struct {
	client     slackClient
	socket     socketClient
	botUserID  string
	appToken   string
	botToken   string
	channelID  string // default channel for messages without explicit channel
	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan bot.InboundMessage
	cancelFunc context.CancelFunc
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken  string // xapp-... Slack app-level token for Socket Mode
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // default channel to post to
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Adapter{
		client:    opts.Client,
		socket:    opts.Socket,
		appToken:  opts.AppToken,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		inbound:   make(chan bot.InboundMessage, 100),
	}, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send delivers a message to Slack. Cards become attachments.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	channelID := msg.ConversationID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := buildMessageOptions(msg)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, maxReconnectAttempts, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", maxReconnectAttempts)
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	case *slackevents.MemberJoinedChannelEvent:
		a.handleMemberJoined(ev)
	}
}

// handleMessage converts a Slack message event to an InboundMessage.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	// Filter bot self-messages, other bots, and message subtypes (edits,
	// deletes, etc.).
	if ev.User == a.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	a.inbound <- bot.InboundMessage{
		Platform:       "slack",
		ChannelID:      ev.Channel,
		ConversationID: ev.Channel,
		UserID:         ev.User,
		UserName:       ev.User,
		Text:           ev.Text,
		Timestamp:      parseSlackTimestamp(ev.TimeStamp),
	}
}

// handleMemberJoined surfaces channel joins as empty-text messages so the
// bot can greet new members.
func (a *Adapter) handleMemberJoined(ev *slackevents.MemberJoinedChannelEvent) {
	if ev.User == a.botUserID {
		return
	}
	a.inbound <- bot.InboundMessage{
		Platform:       "slack",
		ChannelID:      ev.Channel,
		ConversationID: ev.Channel,
		UserID:         ev.User,
		UserName:       ev.User,
		Timestamp:      time.Now(),
	}
}

// buildMessageOptions translates an OutboundMessage into Slack message options.
func buildMessageOptions(msg bot.OutboundMessage) []slackapi.MsgOption {
	var options []slackapi.MsgOption
	if msg.Text != "" {
		options = append(options, slackapi.MsgOptionText(msg.Text, false))
	}
	for _, card := range msg.Cards {
		attachment := slackapi.Attachment{
			Title: card.Title,
			Text:  card.Body,
			Color: cardColor,
		}
		for _, f := range card.Fields {
			attachment.Fields = append(attachment.Fields, slackapi.AttachmentField{
				Title: f.Name,
				Value: f.Value,
				Short: true,
			})
		}
		options = append(options, slackapi.MsgOptionAttachments(attachment))
	}
	return options
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, honoring
// the server-provided retry delay when present.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g. "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
