// Package bot implements the conversational reminder dialog and the turn
// handlers that bridge chat platforms to it.
package bot

import (
	"context"
	"time"

	"github.com/victor-kironde/vk-reminder-bot/internal/models"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management and message
// sending/receiving for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform       string    // e.g. "discord", "slack", "emulator"
	ChannelID      string    // platform-specific channel identifier
	ConversationID string    // conversation identifier within the channel
	UserID         string    // platform-specific user identifier
	UserName       string    // human-readable username
	Text           string    // raw message text
	Timestamp      time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID      string // target channel (empty for the adapter default)
	ConversationID string // conversation to reply in
	Text           string // message text
	Cards          []Card // structured card attachments
}

// Card is a structured message attachment with a title and body.
// Cards are always built fresh by constructors; there is no shared template.
type Card struct {
	Title  string
	Body   string
	Fields []CardField
}

// CardField is a key-value pair displayed on a card.
type CardField struct {
	Name  string
	Value string
}

// ReminderCard builds a card rendering a single reminder.
func ReminderCard(r models.Reminder) Card {
	return Card{
		Title: r.Title,
		Body:  r.Time,
		Fields: []CardField{
			{Name: "Title", Value: r.Title},
			{Name: "Time", Value: r.Time},
		},
	}
}

// HelpCard builds the card sent in response to "help" or "?".
func HelpCard() Card {
	return Card{
		Title: "Reminder Bot",
		Body: "I can set reminders and deliver them at the right minute.\n" +
			"Say \"Set Reminder\" to create one, \"Show All Reminders\" to list " +
			"them, or \"Exit\" to leave.\nSay \"cancel\" at any point to abandon " +
			"what we were doing.",
	}
}
