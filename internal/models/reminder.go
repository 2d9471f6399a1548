// Package models defines the data records shared across the reminder bot.
package models

import "time"

// TimeLayout is the wire/storage format for reminder times: minute-granular,
// local clock, no timezone tag. Lexicographic order on this layout matches
// chronological order.
const TimeLayout = "2006-01-02 15:04"

// FormatTime renders t in TimeLayout, truncated to the minute.
func FormatTime(t time.Time) string {
	return t.Truncate(time.Minute).Format(TimeLayout)
}

// Reminder is a single scheduled reminder. Immutable once saved, except for
// the Delivered marker the scheduler sets after a successful send.
type Reminder struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Time      string `json:"time"`  // TimeLayout
	Owner     string `json:"owner"` // user ID of the conversation that created it
	Delivered bool   `json:"delivered"`
}

// ReminderLog is the single logical record holding all reminders, stored
// under one key. TurnNumber increments by exactly one per successful append;
// it is a write-count audit trail, not a concurrency token.
type ReminderLog struct {
	Reminders  []Reminder `json:"reminder_list"`
	TurnNumber int        `json:"turn_number"`
}

// WelcomeUserState records whether a user has been greeted. Set once,
// never reset.
type WelcomeUserState struct {
	DidWelcomeUser bool `json:"did_welcome_user"`
}

// StorageRecord is the key/value document row backing the GORM store.
type StorageRecord struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte `gorm:"type:blob"`
	UpdatedAt time.Time
}
