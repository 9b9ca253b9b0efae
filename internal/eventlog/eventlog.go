// Package eventlog is the append-only audit trail. Every inbound update and
// every derived domain event is recorded in its own SQLite file, regardless
// of whether moderation acted on it. Writes are best-effort: an audit
// failure is logged and swallowed, it must never stall ingestion.
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// Record sources.
const (
	SourceBotAPI  = "bot_api"
	SourceMTProto = "mtproto"
	SourceDomain  = "domain"
)

// Row is one audit record. Kind is the update or event type; PayloadJSON is
// the full serialized payload as received or derived.
type Row struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RecvTimestamp float64 `gorm:"column:recv_timestamp;not null;index:idx_event_log_recv"`
	Source        string  `gorm:"column:source;not null"`
	Kind          string  `gorm:"column:kind;not null"`
	PayloadJSON   string  `gorm:"column:payload_json;type:text;not null"`
}

// TableName returns the database table name for Row.
func (Row) TableName() string { return "event_log" }

// Migrate creates the event_log table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Row{})
}

// Log appends audit records.
type Log struct {
	db  *gorm.DB
	log zerolog.Logger
}

// New wraps an already-opened audit database.
func New(db *gorm.DB, log zerolog.Logger) *Log {
	return &Log{db: db, log: log.With().Str("component", "eventlog").Logger()}
}

// LogRaw records a raw inbound update from one of the Telegram sources.
func (l *Log) LogRaw(ctx context.Context, source, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.log.Warn().Err(err).Str("kind", kind).Msg("audit: serialize raw update")
		return
	}
	l.append(ctx, Row{
		RecvTimestamp: float64(domain.Now()),
		Source:        source,
		Kind:          kind,
		PayloadJSON:   string(data),
	})
}

// LogEvent records a derived domain event.
func (l *Log) LogEvent(ctx context.Context, ev domain.Event) {
	data, err := domain.EncodeEvent(ev)
	if err != nil {
		l.log.Warn().Err(err).Str("kind", ev.EventType()).Msg("audit: serialize event")
		return
	}
	l.append(ctx, Row{
		RecvTimestamp: float64(ev.RecvTime()),
		Source:        SourceDomain,
		Kind:          ev.EventType(),
		PayloadJSON:   string(data),
	})
}

func (l *Log) append(ctx context.Context, row Row) {
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		l.log.Warn().Err(err).Str("kind", row.Kind).Msg("audit: append failed")
	}
}

// Recent returns the newest records, newest first. Operational surface only.
func (l *Log) Recent(ctx context.Context, limit int) ([]Row, error) {
	var rows []Row
	err := l.db.WithContext(ctx).
		Order("recv_timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
