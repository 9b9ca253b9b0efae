// Package queue implements the durable single-consumer event queue backed
// by its own SQLite file. Producers append events transactionally; the one
// processor goroutine claims them oldest-first via a conditional UPDATE, so
// a crash between claim and completion leaves the row IN_PROGRESS for
// inspection instead of losing it. Events are never deleted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// Event states. NEW rows are eligible for processing; IN_PROGRESS rows are
// claimed by the consumer; DONE and ERROR are terminal.
const (
	StateNew        = "NEW"
	StateInProgress = "IN_PROGRESS"
	StateDone       = "DONE"
	StateError      = "ERROR"
)

// EventRow is one durable queue entry. EventType/EventJSON hold the encoded
// domain event; AttemptsJSON accumulates one record per processing attempt.
type EventRow struct {
	EventID              int64   `gorm:"column:event_id;primaryKey;autoIncrement"`
	RecvTimestamp        float64 `gorm:"column:recv_timestamp;not null;index:idx_new_events,priority:2,where:state = 'NEW'"`
	EventType            string  `gorm:"column:event_type;not null"`
	EventJSON            string  `gorm:"column:event_json;type:text;not null"`
	State                string  `gorm:"column:state;not null;index:idx_new_events,priority:1,where:state = 'NEW'"`
	StateUpdateTimestamp float64 `gorm:"column:state_update_timestamp;not null"`
	AcquireToken         string  `gorm:"column:acquire_token"`
	AttemptsJSON         string  `gorm:"column:attempts_json;type:text"`
}

// TableName returns the database table name for EventRow.
func (EventRow) TableName() string { return "events" }

// Attempt records one processing attempt of an event.
type Attempt struct {
	StartedTimestamp  domain.Timestamp `json:"started_timestamp"`
	FinishedTimestamp domain.Timestamp `json:"finished_timestamp"`
	Error             string           `json:"error,omitempty"`
}

// Migrate creates the events table and its indices.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRow{})
}

// Options tune the queue consumer.
type Options struct {
	// PollInterval bounds how long the consumer sleeps before re-scanning
	// even without a notification. Covers rows written by other processes
	// and the rare lost notification. Default 1s.
	PollInterval time.Duration
	// MaxAttempts is how many times an event may fail before it is parked
	// in ERROR. Default 1 (no automatic retry).
	MaxAttempts int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	return out
}

// Queue is the handle shared by producers and the single consumer.
type Queue struct {
	db     *gorm.DB
	opts   Options
	log    zerolog.Logger
	notify chan struct{}
}

// New wraps an already-opened queue database.
func New(db *gorm.DB, log zerolog.Logger, opts Options) *Queue {
	return &Queue{
		db:     db,
		opts:   opts.withDefaults(),
		log:    log.With().Str("component", "queue").Logger(),
		notify: make(chan struct{}, 1),
	}
}

// Put appends events in a single transaction: either all become visible as
// NEW or none do. Safe for concurrent use.
func (q *Queue) Put(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := float64(domain.Now())
	rows := make([]EventRow, 0, len(events))
	for _, ev := range events {
		payload, err := domain.EncodeEvent(ev)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.EventType(), err)
		}
		rows = append(rows, EventRow{
			RecvTimestamp:        float64(ev.RecvTime()),
			EventType:            ev.EventType(),
			EventJSON:            string(payload),
			State:                StateNew,
			StateUpdateTimestamp: now,
		})
	}
	if err := q.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("enqueue %d events: %w", len(rows), err)
	}
	q.wakeConsumer()
	return nil
}

func (q *Queue) wakeConsumer() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Depth counts events that still need work (NEW plus claimed IN_PROGRESS).
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).
		Model(&EventRow{}).
		Where("state IN ?", []string{StateNew, StateInProgress}).
		Count(&n).Error
	return n, err
}

// ProcessOne claims and processes the oldest NEW event, blocking up to
// timeout when the queue is empty. Returns (true, nil) once an event
// reached a new state, even if the handler failed: handler errors are
// recorded on the row, not surfaced here. Returns (false, nil) on timeout
// and (false, ctx.Err()) on cancellation. timeout <= 0 blocks until an
// event arrives or the context ends.
func (q *Queue) ProcessOne(ctx context.Context, timeout time.Duration, fn func(domain.Event) error) (bool, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		processed, err := q.tryProcess(ctx, fn)
		if err != nil || processed {
			return processed, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			return false, nil
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// tryProcess scans NEW rows oldest-first and processes the first one it
// manages to claim. A failed claim means another consumer (or a previous
// incarnation's leftover transaction) won the row; scanning just continues.
func (q *Queue) tryProcess(ctx context.Context, fn func(domain.Event) error) (bool, error) {
	const batchSize = 32
	for offset := 0; ; offset += batchSize {
		var rows []EventRow
		err := q.db.WithContext(ctx).
			Where("state = ?", StateNew).
			Order("recv_timestamp ASC, event_id ASC").
			Offset(offset).
			Limit(batchSize).
			Find(&rows).Error
		if err != nil {
			return false, fmt.Errorf("scan queue: %w", err)
		}
		if len(rows) == 0 {
			return false, nil
		}
		for i := range rows {
			claimed, err := q.claimAndRun(ctx, &rows[i], fn)
			if err != nil {
				return false, err
			}
			if claimed {
				return true, nil
			}
		}
	}
}

func (q *Queue) claimAndRun(ctx context.Context, row *EventRow, fn func(domain.Event) error) (bool, error) {
	token := uuid.NewString()
	res := q.db.WithContext(ctx).
		Model(&EventRow{}).
		Where("event_id = ? AND state = ?", row.EventID, StateNew).
		Updates(map[string]any{
			"state":                  StateInProgress,
			"state_update_timestamp": float64(domain.Now()),
			"acquire_token":          token,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim event %d: %w", row.EventID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the claim race.
		return false, nil
	}

	attempt := Attempt{StartedTimestamp: domain.Now()}
	runErr := q.runHandler(row, fn)
	attempt.FinishedTimestamp = domain.Now()

	attempts, err := appendAttempt(row.AttemptsJSON, attempt, runErr)
	if err != nil {
		return false, err
	}

	next := StateDone
	if runErr != nil {
		var count []Attempt
		_ = json.Unmarshal([]byte(attempts), &count)
		if len(count) >= q.opts.MaxAttempts {
			next = StateError
		} else {
			next = StateNew
		}
		q.log.Error().
			Err(runErr).
			Int64("event_id", row.EventID).
			Str("event_type", row.EventType).
			Str("next_state", next).
			Int("attempts", len(count)).
			Msg("event processing failed")
	}

	res = q.db.WithContext(ctx).
		Model(&EventRow{}).
		Where("event_id = ? AND state = ? AND acquire_token = ?", row.EventID, StateInProgress, token).
		Updates(map[string]any{
			"state":                  next,
			"state_update_timestamp": float64(domain.Now()),
			"attempts_json":          attempts,
		})
	if res.Error != nil {
		return false, fmt.Errorf("release event %d: %w", row.EventID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone took the row away mid-flight. Should not happen with a
		// single consumer; loud log instead of silent double-processing.
		q.log.Warn().Int64("event_id", row.EventID).Msg("lost event ownership during processing")
		return true, nil
	}
	if next == StateNew {
		q.wakeConsumer()
	}
	return true, nil
}

// runHandler decodes the event and invokes fn, converting panics into
// errors so one poisonous event cannot take down the processor loop.
func (q *Queue) runHandler(row *EventRow, fn func(domain.Event) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event %d: %v", row.EventID, r)
		}
	}()
	ev, err := domain.DecodeEvent(row.EventType, []byte(row.EventJSON))
	if err != nil {
		return err
	}
	return fn(ev)
}

func appendAttempt(prior string, attempt Attempt, runErr error) (string, error) {
	var attempts []Attempt
	if prior != "" {
		if err := json.Unmarshal([]byte(prior), &attempts); err != nil {
			return "", fmt.Errorf("parse attempts: %w", err)
		}
	}
	if runErr != nil {
		attempt.Error = runErr.Error()
	}
	attempts = append(attempts, attempt)
	out, err := json.Marshal(attempts)
	if err != nil {
		return "", fmt.Errorf("serialize attempts: %w", err)
	}
	return string(out), nil
}

// Attempts decodes the attempt history of a row.
func (r *EventRow) Attempts() ([]Attempt, error) {
	if r.AttemptsJSON == "" {
		return nil, nil
	}
	var out []Attempt
	if err := json.Unmarshal([]byte(r.AttemptsJSON), &out); err != nil {
		return nil, fmt.Errorf("parse attempts: %w", err)
	}
	return out, nil
}

// EventsByState lists rows in a state, oldest first. Used by tests and the
// operational surface; the hot path never needs it.
func (q *Queue) EventsByState(ctx context.Context, state string) ([]EventRow, error) {
	var rows []EventRow
	err := q.db.WithContext(ctx).
		Where("state = ?", state).
		Order("recv_timestamp ASC, event_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
