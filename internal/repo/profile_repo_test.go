package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

func tsPtr(ts domain.Timestamp) *domain.Timestamp { return &ts }

func TestUserProfile_SaveGetUpdate(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	id := domain.UserChatID{UserID: 7, ChatID: -100}

	if _, err := GetUserProfile(ctx, db, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unseen user, got %v", err)
	}

	p := domain.NewUserProfile(id)
	p.OnJoined(1000)
	p.IchbinRequestTimestamp = tsPtr(1001)
	if err := SaveUserProfile(ctx, db, p, tsPtr(2000)); err != nil {
		t.Fatalf("SaveUserProfile (insert): %v", err)
	}

	got, err := GetUserProfile(ctx, db, id)
	if err != nil {
		t.Fatalf("GetUserProfile: %v", err)
	}
	if got.UserChatID != id || got.IchbinRequestTimestamp == nil || *got.IchbinRequestTimestamp != 1001 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// Update path: satisfy the introduction and clear the deadline.
	got.IchbinMessageTimestamp = tsPtr(1500)
	if err := SaveUserProfile(ctx, db, got, nil); err != nil {
		t.Fatalf("SaveUserProfile (update): %v", err)
	}
	again, err := GetUserProfile(ctx, db, id)
	if err != nil {
		t.Fatalf("GetUserProfile after update: %v", err)
	}
	if again.IchbinMessageTimestamp == nil || *again.IchbinMessageTimestamp != 1500 {
		t.Fatalf("update not persisted: %+v", again)
	}

	// One row per (user, chat), not one per save.
	var count int64
	if err := db.Model(&domain.UserProfileRow{}).Count(&count).Error; err != nil || count != 1 {
		t.Fatalf("row count = %d, %v; want 1", count, err)
	}
}

func TestListProfilesWithDueKick(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()

	mk := func(userID domain.UserID, kickAt *domain.Timestamp) {
		p := domain.NewUserProfile(domain.UserChatID{UserID: userID, ChatID: -1})
		p.OnJoined(1)
		if err := SaveUserProfile(ctx, db, p, kickAt); err != nil {
			t.Fatalf("seed user %d: %v", userID, err)
		}
	}
	mk(1, tsPtr(500)) // due, later
	mk(2, tsPtr(100)) // due, earliest
	mk(3, tsPtr(9000))
	mk(4, nil)

	due, err := ListProfilesWithDueKick(ctx, db, 1000)
	if err != nil {
		t.Fatalf("ListProfilesWithDueKick: %v", err)
	}
	if len(due) != 2 || due[0].UserChatID.UserID != 2 || due[1].UserChatID.UserID != 1 {
		t.Fatalf("unexpected due set: %+v", due)
	}
}

func TestListProfilesForChat(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()

	for _, id := range []domain.UserChatID{
		{UserID: 2, ChatID: -1},
		{UserID: 1, ChatID: -1},
		{UserID: 1, ChatID: -2},
	} {
		if err := SaveUserProfile(ctx, db, domain.NewUserProfile(id), nil); err != nil {
			t.Fatalf("seed %+v: %v", id, err)
		}
	}

	got, err := ListProfilesForChat(ctx, db, -1)
	if err != nil {
		t.Fatalf("ListProfilesForChat: %v", err)
	}
	if len(got) != 2 || got[0].UserChatID.UserID != 1 || got[1].UserChatID.UserID != 2 {
		t.Fatalf("unexpected chat profiles: %+v", got)
	}
}
