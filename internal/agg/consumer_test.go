package agg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenlog/activityd/internal/storage"
	redisstore "github.com/lumenlog/activityd/internal/storage/redis"
	"github.com/rs/zerolog"
)

func newTestConsumer(store *redisstore.Store) *Consumer {
	logger := zerolog.Nop()
	rec := NewReconstructor(store.Sessions(), store.Checkpoints(), logger)
	recalc := NewRecalculator(store.Sessions(), store.Totals(), &TestClock{CurrentTime: time.Now()}, logger)

	return NewConsumer(store, rec, recalc, Config{
		PollInterval:    time.Millisecond,
		IdleInterval:    time.Millisecond,
		RetryInterval:   time.Millisecond,
		BatchCount:      100,
		ReplayCacheSize: 16,
	}, logger)
}

func TestConsumer_EmptyLogIsQuiet(t *testing.T) {
	store := setupTestStore(t)
	consumer := newTestConsumer(store)

	applied, err := consumer.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("Expected 0 applied on empty log, got %d", applied)
	}
}

func TestConsumer_AppliesBatchInOrder(t *testing.T) {
	store := setupTestStore(t)
	consumer := newTestConsumer(store)
	ctx := context.Background()

	if _, err := store.Events().Append(ctx, openEvent("U1", 0, "Work", "Editor")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	last, err := store.Events().Append(ctx, closeEvent("U1", 120, "Work"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	applied, err := consumer.runCycle(ctx)
	if err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("Expected 2 applied, got %d", applied)
	}

	session, err := store.Sessions().Get(ctx, "U1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session.Duration != 120 {
		t.Errorf("Expected duration 120, got %d", session.Duration)
	}

	cp, err := store.Checkpoints().Get(ctx)
	if err != nil {
		t.Fatalf("Checkpoint get failed: %v", err)
	}
	if cp.Cursor != last {
		t.Errorf("Expected cursor %s, got %s", last, cp.Cursor)
	}
	if cp.LastLineage != "U1" {
		t.Errorf("Expected last lineage U1, got %q", cp.LastLineage)
	}
}

func TestConsumer_SkipsInvalidEventsAndAdvances(t *testing.T) {
	store := setupTestStore(t)
	consumer := newTestConsumer(store)
	ctx := context.Background()

	if _, err := store.Events().Append(ctx, openEvent("U1", 0, "Work", "Editor")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := store.Events().Append(ctx, closeEvent("U1", 100, "Work")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Trailing invalid entries: one with no session id, one orphan close whose
	// classification matches nothing, so no continuation can adopt it
	if _, err := store.Events().Append(ctx, storage.ActivityEvent{Timestamp: 110, State: true}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	last, err := store.Events().Append(ctx, closeEvent("ghost", 115, "Entertainment"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	applied, err := consumer.runCycle(ctx)
	if err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}
	if applied != 4 {
		t.Errorf("Expected all 4 entries acknowledged, got %d", applied)
	}

	cp, err := store.Checkpoints().Get(ctx)
	if err != nil {
		t.Fatalf("Checkpoint get failed: %v", err)
	}
	if cp.Cursor != last {
		t.Errorf("Checkpoint must advance past skipped entries, got %s want %s", cp.Cursor, last)
	}
	// Skipped entries never overwrite the continuation anchor
	if cp.LastLineage != "U1" {
		t.Errorf("Expected last lineage U1, got %q", cp.LastLineage)
	}

	// The invalid entries left no trace
	if _, err := store.Sessions().Get(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no document for orphan close, got %v", err)
	}

	// A second cycle has nothing left to read
	applied, err = consumer.runCycle(ctx)
	if err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("Expected 0 applied on second cycle, got %d", applied)
	}
}

func TestConsumer_ContinuationAcrossCycles(t *testing.T) {
	store := setupTestStore(t)
	consumer := newTestConsumer(store)
	ctx := context.Background()

	_, _ = store.Events().Append(ctx, openEvent("A", 0, "Work", "Editor"))
	_, _ = store.Events().Append(ctx, closeEvent("A", 100, "Work"))

	if _, err := consumer.runCycle(ctx); err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}

	// The follow-up lineage arrives in a later cycle; the checkpoint carries
	// the anchor across the restart boundary.
	_, _ = store.Events().Append(ctx, openEvent("B", 100, "Work", "Browser"))

	if _, err := consumer.runCycle(ctx); err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}

	session, err := store.Sessions().Get(ctx, "A")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session.End != nil {
		t.Errorf("Expected session A reopened by continuation, got end %v", *session.End)
	}
	if len(session.Apps) != 2 {
		t.Errorf("Expected 2 intervals after continuation, got %d", len(session.Apps))
	}

	cp, _ := store.Checkpoints().Get(ctx)
	if cp.LastLineage != "A" {
		t.Errorf("Expected last lineage A, got %q", cp.LastLineage)
	}
}

// faultySessionStore fails Register for one lineage id until cleared,
// simulating a lost connection mid-batch.
type faultySessionStore struct {
	storage.SessionStore
	failRegister string
}

func (s *faultySessionStore) Register(ctx context.Context, id string) error {
	if s.failRegister != "" && id == s.failRegister {
		return errors.New("connection reset by peer")
	}
	return s.SessionStore.Register(ctx, id)
}

func TestConsumer_StoreFailureHoldsCheckpoint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	logger := zerolog.Nop()
	sessions := &faultySessionStore{SessionStore: store.Sessions(), failRegister: "V2"}
	rec := NewReconstructor(sessions, store.Checkpoints(), logger)
	recalc := NewRecalculator(store.Sessions(), store.Totals(), &TestClock{CurrentTime: time.Now()}, logger)
	consumer := NewConsumer(store, rec, recalc, Config{
		PollInterval:  time.Millisecond,
		IdleInterval:  time.Millisecond,
		RetryInterval: time.Millisecond,
		BatchCount:    100,
	}, logger)

	if _, err := store.Events().Append(ctx, openEvent("U1", 0, "Work", "Editor")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := store.Events().Append(ctx, closeEvent("U1", 100, "Work"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	third, err := store.Events().Append(ctx, openEvent("V2", 100, "Entertainment", "Player"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	applied, err := consumer.runCycle(ctx)
	if err == nil {
		t.Fatal("Expected store failure to abort the cycle")
	}
	if applied != 2 {
		t.Errorf("Expected 2 applied before the failure, got %d", applied)
	}

	// The cursor stops at the last entry that landed with its mutations
	cp, err := store.Checkpoints().Get(ctx)
	if err != nil {
		t.Fatalf("Checkpoint get failed: %v", err)
	}
	if cp.Cursor != second {
		t.Errorf("Checkpoint advanced past a failed event: got %s, want %s", cp.Cursor, second)
	}
	if cp.LastLineage != "U1" {
		t.Errorf("Expected last lineage U1, got %q", cp.LastLineage)
	}

	// The failed event left no partial state
	if _, err := store.Sessions().Get(ctx, "V2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no document for the failed event, got %v", err)
	}

	// The store recovers: the failed entry is redelivered and applied
	sessions.failRegister = ""

	applied, err = consumer.runCycle(ctx)
	if err != nil {
		t.Fatalf("runCycle failed after recovery: %v", err)
	}
	if applied != 1 {
		t.Errorf("Expected 1 applied after recovery, got %d", applied)
	}

	cp, err = store.Checkpoints().Get(ctx)
	if err != nil {
		t.Fatalf("Checkpoint get failed: %v", err)
	}
	if cp.Cursor != third {
		t.Errorf("Expected cursor %s after recovery, got %s", third, cp.Cursor)
	}
	if cp.LastLineage != "V2" {
		t.Errorf("Expected last lineage V2 after recovery, got %q", cp.LastLineage)
	}

	session, err := store.Sessions().Get(ctx, "V2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session.Start != 100 {
		t.Errorf("Expected start 100, got %v", session.Start)
	}
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	store := setupTestStore(t)
	consumer := newTestConsumer(store)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx)
	}()

	// Let it idle through a few cycles, then stop it
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consumer did not stop after cancellation")
	}
}

func TestConsumer_RunRebuildsTotals(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	logger := zerolog.Nop()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	rec := NewReconstructor(store.Sessions(), store.Checkpoints(), logger)
	recalc := NewRecalculator(store.Sessions(), store.Totals(), &TestClock{CurrentTime: now}, logger)
	consumer := NewConsumer(store, rec, recalc, Config{
		PollInterval:  time.Millisecond,
		IdleInterval:  time.Millisecond,
		RetryInterval: time.Millisecond,
		BatchCount:    100,
	}, logger)

	base := float64(now.Unix()) - 200
	_, _ = store.Events().Append(ctx, openEvent("U1", base, "Work", "Editor"))
	_, _ = store.Events().Append(ctx, closeEvent("U1", base+150, "Work"))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(runCtx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		byClass, err := store.Totals().ByClassification(ctx)
		if err == nil && byClass["Work"] == 150 {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("Totals never converged, got %v", byClass)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
