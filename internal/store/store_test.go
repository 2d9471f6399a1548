package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/victor-kironde/vk-reminder-bot/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *ReminderStore {
	t.Helper()
	s, err := NewReminderStore(NewMemoryKV())
	if err != nil {
		t.Fatalf("new reminder store: %v", err)
	}
	return s
}

// failingKV wraps a KV and fails writes on demand.
type failingKV struct {
	inner    KV
	failNext bool
}

func (f *failingKV) Read(ctx context.Context, keys []string) (map[string][]byte, error) {
	return f.inner.Read(ctx, keys)
}

func (f *failingKV) Write(ctx context.Context, changes map[string][]byte) error {
	if f.failNext {
		return fmt.Errorf("disk full")
	}
	return f.inner.Write(ctx, changes)
}

// --- NewReminderStore tests ---

func TestNewReminderStore_NilKV(t *testing.T) {
	if _, err := NewReminderStore(nil); err == nil {
		t.Fatal("expected error for nil kv")
	}
}

// --- Append / Log tests ---

func TestAppendAndLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := models.Reminder{ID: "r1", Title: "Buy milk", Time: "2026-01-02 09:00", Owner: "u1"}
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("append: %v", err)
	}

	log, err := s.Log(ctx)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log.Reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(log.Reminders))
	}
	if log.Reminders[0] != r {
		t.Errorf("stored reminder = %+v, want %+v", log.Reminders[0], r)
	}
	if log.TurnNumber != 1 {
		t.Errorf("turn number = %d, want 1", log.TurnNumber)
	}
}

func TestLog_NeverWritten(t *testing.T) {
	s := newTestStore(t)
	log, err := s.Log(context.Background())
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log.Reminders) != 0 || log.TurnNumber != 0 {
		t.Errorf("expected empty log, got %+v", log)
	}
}

func TestAppend_TurnNumberIncrementsPerSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := models.Reminder{ID: fmt.Sprintf("r%d", i), Title: "t", Time: "2026-01-02 09:00"}
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	log, err := s.Log(ctx)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if log.TurnNumber != 3 {
		t.Errorf("turn number = %d, want 3", log.TurnNumber)
	}
}

func TestAppend_FailedWriteLeavesLogUnchanged(t *testing.T) {
	kv := &failingKV{inner: NewMemoryKV()}
	s, err := NewReminderStore(kv)
	if err != nil {
		t.Fatalf("new reminder store: %v", err)
	}
	ctx := context.Background()

	if err := s.Append(ctx, models.Reminder{ID: "r1", Title: "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	kv.failNext = true
	if err := s.Append(ctx, models.Reminder{ID: "r2", Title: "second"}); err == nil {
		t.Fatal("expected append to fail")
	}
	kv.failNext = false

	log, err := s.Log(ctx)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log.Reminders) != 1 {
		t.Fatalf("expected 1 reminder after failed append, got %d", len(log.Reminders))
	}
	if log.TurnNumber != 1 {
		t.Errorf("turn number = %d, want 1 after failed append", log.TurnNumber)
	}
}

func TestAppend_ConcurrentAppendsBothLand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := models.Reminder{ID: fmt.Sprintf("r%d", i), Title: "t", Time: "2026-01-02 09:00"}
			if err := s.Append(ctx, r); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	log, err := s.Log(ctx)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log.Reminders) != n {
		t.Errorf("expected %d reminders, got %d", n, len(log.Reminders))
	}
	if log.TurnNumber != n {
		t.Errorf("turn number = %d, want %d", log.TurnNumber, n)
	}
}

// Demonstrates why appends go through ReminderStore: two raw read-modify-write
// cycles interleaved on the bare KV lose one of the updates.
func TestRawKVReadModifyWriteLosesUpdates(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	write := func(log models.ReminderLog) {
		raw, _ := json.Marshal(log)
		kv.Write(ctx, map[string][]byte{"ReminderLog": raw})
	}
	read := func() models.ReminderLog {
		vals, _ := kv.Read(ctx, []string{"ReminderLog"})
		var log models.ReminderLog
		json.Unmarshal(vals["ReminderLog"], &log)
		return log
	}

	// Both writers read the same empty snapshot.
	a := read()
	b := read()
	a.Reminders = append(a.Reminders, models.Reminder{ID: "a"})
	b.Reminders = append(b.Reminders, models.Reminder{ID: "b"})
	write(a)
	write(b)

	if got := len(read().Reminders); got != 1 {
		t.Fatalf("expected the interleaved write to clobber, got %d reminders", got)
	}
}

// --- Due / MarkDelivered tests ---

func TestDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := models.Reminder{ID: "past", Title: "past", Time: "2026-01-02 08:00"}
	exact := models.Reminder{ID: "exact", Title: "exact", Time: "2026-01-02 09:00"}
	future := models.Reminder{ID: "future", Title: "future", Time: "2026-01-02 09:01"}
	done := models.Reminder{ID: "done", Title: "done", Time: "2026-01-02 07:00", Delivered: true}
	for _, r := range []models.Reminder{future, exact, past, done} {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append %s: %v", r.ID, err)
		}
	}

	now := time.Date(2026, 1, 2, 9, 0, 30, 0, time.Local)
	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %d: %+v", len(due), due)
	}
	if due[0].ID != "past" || due[1].ID != "exact" {
		t.Errorf("due order = [%s %s], want [past exact]", due[0].ID, due[1].ID)
	}
}

func TestDue_NotDueBeforeTheMinute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := models.Reminder{ID: "r1", Title: "t", Time: "2026-01-02 09:00"}
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("append: %v", err)
	}

	now := time.Date(2026, 1, 2, 8, 59, 59, 0, time.Local)
	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected nothing due at 08:59, got %+v", due)
	}
}

func TestMarkDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, models.Reminder{ID: "r1", Title: "t", Time: "2026-01-02 09:00"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.MarkDelivered(ctx, []string{"r1", "unknown"}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected delivered reminder excluded, got %+v", due)
	}

	log, err := s.Log(ctx)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !log.Reminders[0].Delivered {
		t.Error("expected reminder marked delivered")
	}
}

func TestMarkDelivered_NoIDsIsNoOp(t *testing.T) {
	kv := &failingKV{inner: NewMemoryKV(), failNext: true}
	s, err := NewReminderStore(kv)
	if err != nil {
		t.Fatalf("new reminder store: %v", err)
	}
	if err := s.MarkDelivered(context.Background(), nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

// --- Welcome state tests ---

func TestWelcomeState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.DidWelcome(ctx, "u1")
	if err != nil {
		t.Fatalf("did welcome: %v", err)
	}
	if done {
		t.Error("expected unseen user not welcomed")
	}

	if err := s.SetWelcomed(ctx, "u1"); err != nil {
		t.Fatalf("set welcomed: %v", err)
	}

	done, err = s.DidWelcome(ctx, "u1")
	if err != nil {
		t.Fatalf("did welcome: %v", err)
	}
	if !done {
		t.Error("expected user welcomed after set")
	}

	// Other users are unaffected.
	done, err = s.DidWelcome(ctx, "u2")
	if err != nil {
		t.Fatalf("did welcome: %v", err)
	}
	if done {
		t.Error("expected other user not welcomed")
	}
}

// --- GormKV tests ---

func TestGormKV_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	kv, err := NewGormKV(db)
	if err != nil {
		t.Fatalf("new gorm kv: %v", err)
	}
	ctx := context.Background()

	if err := kv.Write(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	vals, err := kv.Read(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(vals["a"]) != "1" || string(vals["b"]) != "2" {
		t.Errorf("read values = %v", vals)
	}
	if _, ok := vals["missing"]; ok {
		t.Error("expected unwritten key absent")
	}
}

func TestGormKV_Upsert(t *testing.T) {
	db := openTestDB(t)
	kv, err := NewGormKV(db)
	if err != nil {
		t.Fatalf("new gorm kv: %v", err)
	}
	ctx := context.Background()

	if err := kv.Write(ctx, map[string][]byte{"k": []byte("old")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := kv.Write(ctx, map[string][]byte{"k": []byte("new")}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	vals, err := kv.Read(ctx, []string{"k"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(vals["k"]) != "new" {
		t.Errorf("value = %q, want %q", vals["k"], "new")
	}

	var count int64
	if err := db.Model(&models.StorageRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected a single row after upsert, got %d", count)
	}
}

func TestGormKV_BacksReminderStore(t *testing.T) {
	db := openTestDB(t)
	kv, err := NewGormKV(db)
	if err != nil {
		t.Fatalf("new gorm kv: %v", err)
	}
	s, err := NewReminderStore(kv)
	if err != nil {
		t.Fatalf("new reminder store: %v", err)
	}
	ctx := context.Background()

	r := models.Reminder{ID: "r1", Title: "Water plants", Time: "2026-01-02 09:00", Owner: "u1"}
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A second store over the same database sees the saved log.
	s2, err := NewReminderStore(kv)
	if err != nil {
		t.Fatalf("new reminder store: %v", err)
	}
	log, err := s2.Log(ctx)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log.Reminders) != 1 || log.Reminders[0] != r {
		t.Errorf("log = %+v, want one reminder %+v", log, r)
	}
}
