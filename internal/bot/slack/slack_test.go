package slack

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/victor-kironde/vk-reminder-bot/internal/bot"
)

// --- Mock Slack clients ---

type mockClient struct {
	mu        sync.Mutex
	authErr   error
	posted    []postedMessage
	postErrs  []error // consumed one per post, nil entries succeed
	botUserID string
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func (m *mockClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	if m.authErr != nil {
		return nil, m.authErr
	}
	id := m.botUserID
	if id == "" {
		id = "BOT123"
	}
	return &slackapi.AuthTestResponse{UserID: id}, nil
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.postErrs) > 0 {
		err := m.postErrs[0]
		m.postErrs = m.postErrs[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.000001", nil
}

type mockSocket struct {
	events  chan socketmode.Event
	quit    chan struct{}
	runErr  error
	acked   int
	ackedMu sync.Mutex
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		events: make(chan socketmode.Event, 10),
		quit:   make(chan struct{}),
	}
}

func (m *mockSocket) Run() error {
	if m.runErr != nil {
		return m.runErr
	}
	// Block like the real client until shut down.
	<-m.quit
	return nil
}

func (m *mockSocket) EventsChan() chan socketmode.Event { return m.events }

func (m *mockSocket) Ack(req socketmode.Request, payload ...interface{}) {
	m.ackedMu.Lock()
	defer m.ackedMu.Unlock()
	m.acked++
}

func setupAdapter(t *testing.T) (*Adapter, *mockClient, *mockSocket) {
	t.Helper()
	client := &mockClient{}
	socket := newMockSocket()
	a, err := New(AdapterOpts{Client: client, Socket: socket, ChannelID: "C-default"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client, socket
}

// --- New / Connect tests ---

func TestNew_RequiresTokens(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Error("expected error without tokens")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without app token")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb-1", AppToken: "xapp-1"}); err != nil {
		t.Errorf("unexpected error with both tokens: %v", err)
	}
}

func TestConnect_CapturesBotUserID(t *testing.T) {
	a, _, _ := setupAdapter(t)
	if a.BotUserID() != "BOT123" {
		t.Errorf("bot user id = %q, want BOT123", a.BotUserID())
	}
}

func TestConnect_AuthFailure(t *testing.T) {
	client := &mockClient{authErr: fmt.Errorf("invalid_auth")}
	a, err := New(AdapterOpts{Client: client, Socket: newMockSocket()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

// --- Send tests ---

func TestSend_PrefersConversationID(t *testing.T) {
	a, client, _ := setupAdapter(t)
	err := a.Send(context.Background(), bot.OutboundMessage{
		ChannelID:      "C1",
		ConversationID: "C2",
		Text:           "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.posted[0].channelID != "C2" {
		t.Errorf("posted to %q, want C2", client.posted[0].channelID)
	}
}

func TestSend_FallsBackToDefaultChannel(t *testing.T) {
	a, client, _ := setupAdapter(t)
	if err := a.Send(context.Background(), bot.OutboundMessage{Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.posted[0].channelID != "C-default" {
		t.Errorf("posted to %q, want C-default", client.posted[0].channelID)
	}
}

func TestSend_CardsBecomeAttachmentOptions(t *testing.T) {
	a, client, _ := setupAdapter(t)
	card := bot.Card{Title: "Buy milk", Body: "2026-01-16 09:00"}
	err := a.Send(context.Background(), bot.OutboundMessage{
		ConversationID: "C1",
		Text:           "Reminder: Buy milk",
		Cards:          []bot.Card{card},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// One option for the text, one per card.
	if len(client.posted[0].options) != 2 {
		t.Errorf("options = %d, want 2", len(client.posted[0].options))
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	a, client, _ := setupAdapter(t)
	client.postErrs = []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}

	if err := a.Send(context.Background(), bot.OutboundMessage{ConversationID: "C1", Text: "hi"}); err != nil {
		t.Fatalf("send after rate limit: %v", err)
	}
	if len(client.posted) != 1 {
		t.Errorf("posted %d messages, want 1", len(client.posted))
	}
}

func TestSend_NonRateLimitErrorNotRetried(t *testing.T) {
	a, client, _ := setupAdapter(t)
	client.postErrs = []error{fmt.Errorf("channel_not_found")}

	if err := a.Send(context.Background(), bot.OutboundMessage{ConversationID: "C1", Text: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if len(client.posted) != 0 {
		t.Errorf("posted %d messages, want 0", len(client.posted))
	}
}

// --- Event handling tests ---

func TestHandleMessage_Filtering(t *testing.T) {
	a, _, _ := setupAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMessage(&slackevents.MessageEvent{User: "BOT123", Channel: "C1", Text: "self"})
	a.handleMessage(&slackevents.MessageEvent{User: "U2", BotID: "B9", Channel: "C1", Text: "bot"})
	a.handleMessage(&slackevents.MessageEvent{User: "U2", SubType: "message_changed", Channel: "C1", Text: "edit"})
	a.handleMessage(&slackevents.MessageEvent{User: "U2", Channel: "C1", Text: "hi", TimeStamp: "1750000000.000100"})

	select {
	case msg := <-ch:
		if msg.UserID != "U2" || msg.Text != "hi" || msg.Platform != "slack" {
			t.Errorf("inbound = %+v", msg)
		}
		if msg.ConversationID != "C1" {
			t.Errorf("conversation = %q", msg.ConversationID)
		}
		if msg.Timestamp.Unix() != 1750000000 {
			t.Errorf("timestamp = %v", msg.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the human message forwarded")
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected extra inbound: %+v", msg)
	default:
	}
}

func TestHandleMemberJoined_SurfacesEmptyMessage(t *testing.T) {
	a, _, _ := setupAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMemberJoined(&slackevents.MemberJoinedChannelEvent{User: "BOT123", Channel: "C1"})
	a.handleMemberJoined(&slackevents.MemberJoinedChannelEvent{User: "U2", Channel: "C1"})

	select {
	case msg := <-ch:
		if msg.UserID != "U2" || msg.Text != "" {
			t.Errorf("inbound = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected join surfaced")
	}
}

func TestPumpEvents_AcksEventsAPI(t *testing.T) {
	a, _, socket := setupAdapter(t)
	if _, err := a.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}

	socket.events <- socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Data:    slackevents.EventsAPIEvent{Type: slackevents.CallbackEvent},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}

	deadline := time.After(2 * time.Second)
	for {
		socket.ackedMu.Lock()
		acked := socket.acked
		socket.ackedMu.Unlock()
		if acked == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event never acked")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// --- parseSlackTimestamp tests ---

func TestParseSlackTimestamp(t *testing.T) {
	if got := parseSlackTimestamp("1750000000.000100"); got.Unix() != 1750000000 {
		t.Errorf("parsed = %v", got)
	}
	if got := parseSlackTimestamp("garbage"); !got.IsZero() {
		t.Errorf("expected zero time for garbage, got %v", got)
	}
}

// --- Close tests ---

func TestClose_Idempotent(t *testing.T) {
	a, _, _ := setupAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := a.Send(context.Background(), bot.OutboundMessage{ConversationID: "C1"}); err == nil {
		t.Fatal("expected send to fail after close")
	}
}
