// Package repo implements the persistence layer for the bot's durable
// state, backed by GORM. This file provides repository functions for sent
// bot messages, which the retention sweep later deletes from chats.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// RecordBotMessage stores a freshly sent bot message as active (no delete
// timestamp yet).
func RecordBotMessage(ctx context.Context, db *gorm.DB, m domain.BotMessage) error {
	row := domain.BotMessageRow{
		UserID:        int64(m.UserChatID.UserID),
		ChatID:        int64(m.UserChatID.ChatID),
		MessageID:     int64(m.MessageID),
		ReplyType:     string(m.ReplyType),
		SentTimestamp: float64(m.SentTimestamp),
	}
	return db.WithContext(ctx).Create(&row).Error
}

// ListActiveBotMessagesForUser returns the still-present bot messages
// addressed to one (user, chat) pair, oldest first.
func ListActiveBotMessagesForUser(ctx context.Context, db *gorm.DB, id domain.UserChatID) ([]domain.BotMessage, error) {
	var rows []domain.BotMessageRow
	err := db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ? AND delete_timestamp IS NULL", int64(id.UserID), int64(id.ChatID)).
		Order("sent_timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toBotMessages(rows), nil
}

// ListActiveWelcomeMessagesForChat returns the still-present WELCOME
// messages of a whole chat, oldest first. Used when the chat keeps only one
// welcome message at a time.
func ListActiveWelcomeMessagesForChat(ctx context.Context, db *gorm.DB, chatID domain.ChatID) ([]domain.BotMessage, error) {
	var rows []domain.BotMessageRow
	err := db.WithContext(ctx).
		Where("chat_id = ? AND reply_type = ? AND delete_timestamp IS NULL", int64(chatID), string(domain.ReplyWelcome)).
		Order("sent_timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toBotMessages(rows), nil
}

// ListActiveChatIDs returns the chats that currently have active bot
// messages. Drives the retention sweep without a full table scan per chat.
func ListActiveChatIDs(ctx context.Context, db *gorm.DB) ([]domain.ChatID, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.BotMessageRow{}).
		Where("delete_timestamp IS NULL").
		Distinct("chat_id").
		Order("chat_id ASC").
		Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChatID, len(ids))
	for i, id := range ids {
		out[i] = domain.ChatID(id)
	}
	return out, nil
}

// ListActiveUserChatIDs returns the (user, chat) pairs that currently have
// active bot messages.
func ListActiveUserChatIDs(ctx context.Context, db *gorm.DB) ([]domain.UserChatID, error) {
	type pair struct {
		UserID int64
		ChatID int64
	}
	var pairs []pair
	err := db.WithContext(ctx).
		Model(&domain.BotMessageRow{}).
		Where("delete_timestamp IS NULL").
		Distinct("user_id", "chat_id").
		Order("chat_id ASC, user_id ASC").
		Find(&pairs).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserChatID, len(pairs))
	for i, p := range pairs {
		out[i] = domain.UserChatID{UserID: domain.UserID(p.UserID), ChatID: domain.ChatID(p.ChatID)}
	}
	return out, nil
}

// MarkBotMessageDeleted stamps a bot message as removed from its chat.
// Returns ErrNotFound if no active row matches, which usually means the
// sweep already handled it.
func MarkBotMessageDeleted(ctx context.Context, db *gorm.DB, chatID domain.ChatID, messageID domain.MessageID, at domain.Timestamp) error {
	res := db.WithContext(ctx).
		Model(&domain.BotMessageRow{}).
		Where("chat_id = ? AND message_id = ? AND delete_timestamp IS NULL", int64(chatID), int64(messageID)).
		Update("delete_timestamp", float64(at))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func toBotMessages(rows []domain.BotMessageRow) []domain.BotMessage {
	out := make([]domain.BotMessage, len(rows))
	for i, row := range rows {
		out[i] = domain.BotMessage{
			UserChatID: domain.UserChatID{
				UserID: domain.UserID(row.UserID),
				ChatID: domain.ChatID(row.ChatID),
			},
			MessageID:     domain.MessageID(row.MessageID),
			ReplyType:     domain.BotReplyType(row.ReplyType),
			SentTimestamp: domain.Timestamp(row.SentTimestamp),
		}
	}
	return out
}
