package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// test DB helper
func newQueueDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("queue_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := Migrate(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	return New(newQueueDB(t, true), zerolog.Nop(), opts)
}

func periodicAt(ts domain.Timestamp) domain.Event {
	return domain.Periodic{RecvTimestamp: ts}
}

func TestPut_AppendsBatchAsNew(t *testing.T) {
	q := newTestQueue(t, Options{})
	ctx := context.Background()

	if err := q.Put(ctx, periodicAt(3), periodicAt(1), periodicAt(2)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rows, err := q.EventsByState(ctx, StateNew)
	if err != nil {
		t.Fatalf("EventsByState: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 NEW rows, got %d", len(rows))
	}
	// Listing is ordered by receipt timestamp, not insertion order.
	for i, want := range []float64{1, 2, 3} {
		if rows[i].RecvTimestamp != want {
			t.Fatalf("row %d recv_timestamp = %v, want %v", i, rows[i].RecvTimestamp, want)
		}
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("Depth = %d, %v; want 3", depth, err)
	}
}

func TestPut_FailsAtomicallyWithoutTable(t *testing.T) {
	q := New(newQueueDB(t, false /* no migration */), zerolog.Nop(), Options{})
	if err := q.Put(context.Background(), periodicAt(1)); err == nil {
		t.Fatalf("expected error due to missing events table")
	}
}

func TestPut_MidBatchFailureRollsBackWholeBatch(t *testing.T) {
	db := newQueueDB(t, true)
	q := New(db, zerolog.Nop(), Options{})
	ctx := context.Background()

	// Abort the insert on the second row of the batch.
	err := db.Exec(`CREATE TRIGGER reject_poison BEFORE INSERT ON events
		WHEN NEW.recv_timestamp = 666
		BEGIN SELECT RAISE(ABORT, 'poison row'); END;`).Error
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := q.Put(ctx, periodicAt(1), periodicAt(666), periodicAt(2)); err == nil {
		t.Fatalf("expected batch insert to fail on the poison row")
	}
	rows, err := q.EventsByState(ctx, StateNew)
	if err != nil {
		t.Fatalf("EventsByState: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no NEW rows after failed batch, got %d", len(rows))
	}
}

func TestProcessOne_OldestFirstAndDone(t *testing.T) {
	q := newTestQueue(t, Options{})
	ctx := context.Background()

	if err := q.Put(ctx, periodicAt(30), periodicAt(10), periodicAt(20)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var seen []domain.Timestamp
	for i := 0; i < 3; i++ {
		processed, err := q.ProcessOne(ctx, 100*time.Millisecond, func(ev domain.Event) error {
			seen = append(seen, ev.RecvTime())
			return nil
		})
		if err != nil || !processed {
			t.Fatalf("ProcessOne #%d = %v, %v; want true, nil", i, processed, err)
		}
	}
	if len(seen) != 3 || seen[0] != 10 || seen[1] != 20 || seen[2] != 30 {
		t.Fatalf("processed out of order: %v", seen)
	}

	done, err := q.EventsByState(ctx, StateDone)
	if err != nil {
		t.Fatalf("EventsByState: %v", err)
	}
	if len(done) != 3 {
		t.Fatalf("expected 3 DONE rows, got %d", len(done))
	}
	for _, row := range done {
		attempts, err := row.Attempts()
		if err != nil || len(attempts) != 1 || attempts[0].Error != "" {
			t.Fatalf("row %d attempts = %+v, %v; want one clean attempt", row.EventID, attempts, err)
		}
		if row.AcquireToken == "" {
			t.Fatalf("row %d has no acquire token", row.EventID)
		}
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 0 {
		t.Fatalf("Depth = %d, %v; want 0", depth, err)
	}
}

func TestProcessOne_ConcurrentConsumersClaimOnce(t *testing.T) {
	q := newTestQueue(t, Options{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	// One shared connection serializes the SQLite access while still letting
	// both consumers scan the row before either claims it.
	sqlDB, err := q.db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := q.Put(ctx, periodicAt(10)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var calls, wins atomic.Int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			processed, err := q.ProcessOne(ctx, 200*time.Millisecond, func(domain.Event) error {
				calls.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("ProcessOne: %v", err)
			}
			if processed {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want exactly 1", calls.Load())
	}
	if wins.Load() != 1 {
		t.Fatalf("%d consumers reported processing, want exactly 1", wins.Load())
	}
	done, err := q.EventsByState(ctx, StateDone)
	if err != nil || len(done) != 1 {
		t.Fatalf("DONE rows = %d, %v; want 1", len(done), err)
	}
}

func TestClaim_LostRaceSkipsRow(t *testing.T) {
	q := newTestQueue(t, Options{})
	ctx := context.Background()

	if err := q.Put(ctx, periodicAt(10)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rows, err := q.EventsByState(ctx, StateNew)
	if err != nil || len(rows) != 1 {
		t.Fatalf("NEW rows = %d, %v; want 1", len(rows), err)
	}

	// Another consumer takes the row between our scan and our claim.
	err = q.db.Model(&EventRow{}).
		Where("event_id = ?", rows[0].EventID).
		Update("state", StateInProgress).Error
	if err != nil {
		t.Fatalf("steal row: %v", err)
	}

	claimed, err := q.claimAndRun(ctx, &rows[0], func(domain.Event) error {
		t.Fatalf("handler must not run on a lost claim")
		return nil
	})
	if err != nil || claimed {
		t.Fatalf("claimAndRun = %v, %v; want false, nil", claimed, err)
	}
	// The thief keeps the row untouched.
	stolen, err := q.EventsByState(ctx, StateInProgress)
	if err != nil || len(stolen) != 1 || stolen[0].AcquireToken != "" {
		t.Fatalf("stolen row changed: %+v, %v", stolen, err)
	}
}

func TestProcessOne_TimeoutOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t, Options{PollInterval: 10 * time.Millisecond})

	start := time.Now()
	processed, err := q.ProcessOne(context.Background(), 50*time.Millisecond, func(domain.Event) error {
		t.Fatalf("handler should not run on an empty queue")
		return nil
	})
	if err != nil || processed {
		t.Fatalf("ProcessOne = %v, %v; want false, nil", processed, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
}

func TestProcessOne_ContextCancelled(t *testing.T) {
	q := newTestQueue(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := q.ProcessOne(ctx, 0, func(domain.Event) error { return nil })
	if processed || !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessOne = %v, %v; want false, context.Canceled", processed, err)
	}
}

func TestProcessOne_HandlerErrorParksEvent(t *testing.T) {
	q := newTestQueue(t, Options{MaxAttempts: 1})
	ctx := context.Background()

	if err := q.Put(ctx, periodicAt(10), periodicAt(20)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	boom := errors.New("boom")
	processed, err := q.ProcessOne(ctx, 100*time.Millisecond, func(ev domain.Event) error {
		return boom
	})
	if err != nil || !processed {
		t.Fatalf("ProcessOne = %v, %v; want true, nil (handler errors stay on the row)", processed, err)
	}

	parked, err := q.EventsByState(ctx, StateError)
	if err != nil || len(parked) != 1 {
		t.Fatalf("ERROR rows = %d, %v; want 1", len(parked), err)
	}
	attempts, err := parked[0].Attempts()
	if err != nil || len(attempts) != 1 || attempts[0].Error != "boom" {
		t.Fatalf("attempts = %+v, %v; want one attempt with the handler error", attempts, err)
	}

	// The parked event must not block the one behind it.
	processed, err = q.ProcessOne(ctx, 100*time.Millisecond, func(ev domain.Event) error {
		if ev.RecvTime() != 20 {
			t.Fatalf("expected the second event, got %v", ev.RecvTime())
		}
		return nil
	})
	if err != nil || !processed {
		t.Fatalf("ProcessOne after parked event = %v, %v; want true, nil", processed, err)
	}
}

func TestProcessOne_RetriesUntilMaxAttempts(t *testing.T) {
	q := newTestQueue(t, Options{MaxAttempts: 2})
	ctx := context.Background()

	if err := q.Put(ctx, periodicAt(10)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	calls := 0
	fail := func(domain.Event) error {
		calls++
		return fmt.Errorf("attempt %d failed", calls)
	}

	if processed, err := q.ProcessOne(ctx, 100*time.Millisecond, fail); err != nil || !processed {
		t.Fatalf("first ProcessOne = %v, %v", processed, err)
	}
	// First failure goes back to NEW for a retry.
	if rows, _ := q.EventsByState(ctx, StateNew); len(rows) != 1 {
		t.Fatalf("expected event back in NEW after first failure")
	}

	if processed, err := q.ProcessOne(ctx, 100*time.Millisecond, fail); err != nil || !processed {
		t.Fatalf("second ProcessOne = %v, %v", processed, err)
	}
	parked, err := q.EventsByState(ctx, StateError)
	if err != nil || len(parked) != 1 {
		t.Fatalf("ERROR rows = %d, %v; want 1 after max attempts", len(parked), err)
	}
	attempts, err := parked[0].Attempts()
	if err != nil || len(attempts) != 2 {
		t.Fatalf("attempts = %+v, %v; want 2 recorded attempts", attempts, err)
	}
	if attempts[0].Error != "attempt 1 failed" || attempts[1].Error != "attempt 2 failed" {
		t.Fatalf("attempt errors not preserved: %+v", attempts)
	}
	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
}

func TestProcessOne_PanicIsAnAttemptError(t *testing.T) {
	q := newTestQueue(t, Options{MaxAttempts: 1})
	ctx := context.Background()

	if err := q.Put(ctx, periodicAt(10)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	processed, err := q.ProcessOne(ctx, 100*time.Millisecond, func(domain.Event) error {
		panic("handler exploded")
	})
	if err != nil || !processed {
		t.Fatalf("ProcessOne = %v, %v; want true, nil", processed, err)
	}
	parked, err := q.EventsByState(ctx, StateError)
	if err != nil || len(parked) != 1 {
		t.Fatalf("ERROR rows = %d, %v; want 1", len(parked), err)
	}
	attempts, _ := parked[0].Attempts()
	if len(attempts) != 1 || attempts[0].Error == "" {
		t.Fatalf("panic not recorded as attempt error: %+v", attempts)
	}
}

func TestProcessOne_UndecodableRowIsParked(t *testing.T) {
	db := newQueueDB(t, true)
	q := New(db, zerolog.Nop(), Options{MaxAttempts: 1})
	ctx := context.Background()

	// A row written by a newer build, with an event type this one does not know.
	row := EventRow{
		RecvTimestamp: 10,
		EventType:     "FutureEvent",
		EventJSON:     "{}",
		State:         StateNew,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed row: %v", err)
	}

	processed, err := q.ProcessOne(ctx, 100*time.Millisecond, func(domain.Event) error {
		t.Fatalf("handler must not see an undecodable event")
		return nil
	})
	if err != nil || !processed {
		t.Fatalf("ProcessOne = %v, %v; want true, nil", processed, err)
	}
	parked, err := q.EventsByState(ctx, StateError)
	if err != nil || len(parked) != 1 {
		t.Fatalf("ERROR rows = %d, %v; want 1", len(parked), err)
	}
}

func TestPut_WakesBlockedConsumer(t *testing.T) {
	// Long poll interval so only the notification can wake the consumer in time.
	q := newTestQueue(t, Options{PollInterval: 10 * time.Second})
	ctx := context.Background()

	type result struct {
		processed bool
		err       error
	}
	done := make(chan result, 1)
	go func() {
		processed, err := q.ProcessOne(ctx, 5*time.Second, func(domain.Event) error { return nil })
		done <- result{processed, err}
	}()

	time.Sleep(50 * time.Millisecond)
	if err := q.Put(ctx, periodicAt(1)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil || !r.processed {
			t.Fatalf("ProcessOne = %v, %v; want true, nil", r.processed, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer was not woken by Put")
	}
}
