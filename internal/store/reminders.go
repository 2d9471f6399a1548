package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/victor-kironde/vk-reminder-bot/internal/models"
)

// reminderLogKey is the single key holding the reminder log.
const reminderLogKey = "ReminderLog"

// welcomeKeyPrefix namespaces per-user welcome state records.
const welcomeKeyPrefix = "WelcomeUserState:"

// ReminderStore persists reminders through a KV backend. Appends and
// delivery-marker updates are serialized under an internal mutex, so the
// read-modify-write on the log record cannot lose concurrent updates.
type ReminderStore struct {
	kv KV
	mu sync.Mutex
}

// NewReminderStore creates a ReminderStore.
func NewReminderStore(kv KV) (*ReminderStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("store: kv is required")
	}
	return &ReminderStore{kv: kv}, nil
}

// Append adds a reminder to the log and increments the turn counter. The log
// record is created lazily on first save. A failed write leaves the stored
// log, including its turn counter, unchanged.
func (s *ReminderStore) Append(ctx context.Context, r models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.readLog(ctx)
	if err != nil {
		return err
	}
	log.Reminders = append(log.Reminders, r)
	log.TurnNumber++
	return s.writeLog(ctx, log)
}

// Log returns the full reminder log. A log that was never written is empty.
func (s *ReminderStore) Log(ctx context.Context) (models.ReminderLog, error) {
	return s.readLog(ctx)
}

// Due returns undelivered reminders whose time is at or before now, sorted
// ascending by time (stable).
func (s *ReminderStore) Due(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	log, err := s.readLog(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := models.FormatTime(now)
	var due []models.Reminder
	for _, r := range log.Reminders {
		if !r.Delivered && r.Time <= cutoff {
			due = append(due, r)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].Time < due[j].Time })
	return due, nil
}

// MarkDelivered flags the given reminder IDs as delivered. Unknown IDs are
// ignored. Delivery stays at-least-once: a crash between send and mark
// re-delivers on the next sweep.
func (s *ReminderStore) MarkDelivered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.readLog(ctx)
	if err != nil {
		return err
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	changed := false
	for i := range log.Reminders {
		if idSet[log.Reminders[i].ID] && !log.Reminders[i].Delivered {
			log.Reminders[i].Delivered = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.writeLog(ctx, log)
}

// DidWelcome reports whether the user has already been greeted.
func (s *ReminderStore) DidWelcome(ctx context.Context, userID string) (bool, error) {
	key := welcomeKeyPrefix + userID
	vals, err := s.kv.Read(ctx, []string{key})
	if err != nil {
		return false, fmt.Errorf("store: read welcome state: %w", err)
	}
	raw, ok := vals[key]
	if !ok {
		return false, nil
	}
	var state models.WelcomeUserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("store: decode welcome state: %w", err)
	}
	return state.DidWelcomeUser, nil
}

// SetWelcomed records that the user has been greeted.
func (s *ReminderStore) SetWelcomed(ctx context.Context, userID string) error {
	raw, err := json.Marshal(models.WelcomeUserState{DidWelcomeUser: true})
	if err != nil {
		return fmt.Errorf("store: encode welcome state: %w", err)
	}
	if err := s.kv.Write(ctx, map[string][]byte{welcomeKeyPrefix + userID: raw}); err != nil {
		return fmt.Errorf("store: write welcome state: %w", err)
	}
	return nil
}

func (s *ReminderStore) readLog(ctx context.Context) (models.ReminderLog, error) {
	vals, err := s.kv.Read(ctx, []string{reminderLogKey})
	if err != nil {
		return models.ReminderLog{}, fmt.Errorf("store: read reminder log: %w", err)
	}
	raw, ok := vals[reminderLogKey]
	if !ok {
		return models.ReminderLog{}, nil
	}
	var log models.ReminderLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return models.ReminderLog{}, fmt.Errorf("store: decode reminder log: %w", err)
	}
	return log, nil
}

func (s *ReminderStore) writeLog(ctx context.Context, log models.ReminderLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("store: encode reminder log: %w", err)
	}
	if err := s.kv.Write(ctx, map[string][]byte{reminderLogKey: raw}); err != nil {
		return fmt.Errorf("store: write reminder log: %w", err)
	}
	return nil
}
