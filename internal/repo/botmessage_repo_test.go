package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

func TestBotMessages_RecordListMark(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	id := domain.UserChatID{UserID: 7, ChatID: -100}

	msgs := []domain.BotMessage{
		{UserChatID: id, MessageID: 1, ReplyType: domain.ReplyIchbinRequest, SentTimestamp: 10},
		{UserChatID: id, MessageID: 2, ReplyType: domain.ReplyWelcome, SentTimestamp: 20},
		{UserChatID: domain.UserChatID{UserID: 8, ChatID: -100}, MessageID: 3, ReplyType: domain.ReplyWelcome, SentTimestamp: 30},
		{UserChatID: domain.UserChatID{UserID: 9, ChatID: -200}, MessageID: 4, ReplyType: domain.ReplyWelcome, SentTimestamp: 40},
	}
	for _, m := range msgs {
		if err := RecordBotMessage(ctx, db, m); err != nil {
			t.Fatalf("RecordBotMessage %d: %v", m.MessageID, err)
		}
	}

	mine, err := ListActiveBotMessagesForUser(ctx, db, id)
	if err != nil {
		t.Fatalf("ListActiveBotMessagesForUser: %v", err)
	}
	if len(mine) != 2 || mine[0].MessageID != 1 || mine[1].MessageID != 2 {
		t.Fatalf("unexpected user messages: %+v", mine)
	}

	welcomes, err := ListActiveWelcomeMessagesForChat(ctx, db, -100)
	if err != nil {
		t.Fatalf("ListActiveWelcomeMessagesForChat: %v", err)
	}
	if len(welcomes) != 2 || welcomes[0].MessageID != 2 || welcomes[1].MessageID != 3 {
		t.Fatalf("unexpected welcome messages: %+v", welcomes)
	}

	chats, err := ListActiveChatIDs(ctx, db)
	if err != nil || len(chats) != 2 || chats[0] != -200 || chats[1] != -100 {
		t.Fatalf("ListActiveChatIDs = %+v, %v", chats, err)
	}
	pairs, err := ListActiveUserChatIDs(ctx, db)
	if err != nil || len(pairs) != 3 {
		t.Fatalf("ListActiveUserChatIDs = %+v, %v", pairs, err)
	}

	// Mark one deleted: it disappears from every active listing.
	if err := MarkBotMessageDeleted(ctx, db, -100, 2, 50); err != nil {
		t.Fatalf("MarkBotMessageDeleted: %v", err)
	}
	mine, err = ListActiveBotMessagesForUser(ctx, db, id)
	if err != nil || len(mine) != 1 || mine[0].MessageID != 1 {
		t.Fatalf("deleted message still listed: %+v, %v", mine, err)
	}

	// Second mark finds no active row.
	if err := MarkBotMessageDeleted(ctx, db, -100, 2, 60); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for double delete, got %v", err)
	}
}
