package eventlog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

func newLogDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("eventlog_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
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

func TestLog_RawAndEvent(t *testing.T) {
	l := New(newLogDB(t, true), zerolog.Nop())
	ctx := context.Background()

	l.LogRaw(ctx, SourceBotAPI, "message", map[string]any{"update_id": 1})
	l.LogEvent(ctx, domain.ChatMemberJoined{
		RecvTimestamp: 100,
		UserChatID:    domain.UserChatID{UserID: 7, ChatID: -2},
	})

	rows, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(rows))
	}
	// Newest first: the raw update carries a wall-clock timestamp.
	if rows[0].Source != SourceBotAPI || rows[0].Kind != "message" {
		t.Fatalf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].Source != SourceDomain || rows[1].Kind != "ChatMemberJoined" || rows[1].RecvTimestamp != 100 {
		t.Fatalf("unexpected event row: %+v", rows[1])
	}
	if rows[1].PayloadJSON == "" {
		t.Fatalf("event payload not recorded")
	}
}

func TestLog_AppendFailureIsSwallowed(t *testing.T) {
	// No migration: the table is missing, appends must not panic or error out.
	l := New(newLogDB(t, false), zerolog.Nop())
	l.LogRaw(context.Background(), SourceMTProto, "reaction", map[string]any{})
	l.LogEvent(context.Background(), domain.Periodic{RecvTimestamp: 1})
}
