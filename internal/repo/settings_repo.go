// Package repo implements the persistence layer for the bot's durable
// state, backed by GORM. This file provides repository functions for chat
// settings, registered chats, and per-(user,chat) capabilities.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// GetChatSettings returns the stored settings for a chat, or ErrNotFound
// when the chat has none yet. Callers fall back to their configured
// defaults on ErrNotFound.
func GetChatSettings(ctx context.Context, db *gorm.DB, chatID domain.ChatID) (domain.ChatSettings, error) {
	var row domain.ChatSettingsRow
	err := db.WithContext(ctx).
		Where("chat_id = ?", int64(chatID)).
		First(&row).Error
	if err != nil {
		return domain.ChatSettings{}, err
	}
	s, err := domain.ParseChatSettings([]byte(row.ChatSettingsJSON))
	if err != nil {
		return domain.ChatSettings{}, fmt.Errorf("chat %d: %w", chatID, err)
	}
	return s, nil
}

// SaveChatSettings upserts the settings blob for a chat.
func SaveChatSettings(ctx context.Context, db *gorm.DB, chatID domain.ChatID, s domain.ChatSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serialize settings for chat %d: %w", chatID, err)
	}
	res := db.WithContext(ctx).
		Model(&domain.ChatSettingsRow{}).
		Where("chat_id = ?", int64(chatID)).
		Update("chat_settings", string(data))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	row := domain.ChatSettingsRow{ChatID: int64(chatID), ChatSettingsJSON: string(data)}
	return db.WithContext(ctx).Create(&row).Error
}

// RegisteredChat pairs a chat id with its last known metadata.
type RegisteredChat struct {
	ChatID   domain.ChatID
	ChatInfo domain.ChatInfo
}

// UpsertChat registers a chat (or refreshes its metadata). The row is only
// written when the metadata actually changed.
func UpsertChat(ctx context.Context, db *gorm.DB, chatID domain.ChatID, info domain.ChatInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("serialize chat info for %d: %w", chatID, err)
	}

	var row domain.ChatRow
	err = db.WithContext(ctx).Where("chat_id = ?", int64(chatID)).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = domain.ChatRow{ChatID: int64(chatID), ChatInfoJSON: string(data)}
		return db.WithContext(ctx).Create(&row).Error
	case err != nil:
		return err
	case row.ChatInfoJSON == string(data):
		return nil
	default:
		return db.WithContext(ctx).
			Model(&domain.ChatRow{}).
			Where("chat_id = ?", int64(chatID)).
			Update("chat_info", string(data)).Error
	}
}

// DeleteChat removes a chat from the registry, e.g. when the bot itself is
// kicked out. Deleting an unknown chat is a no-op.
func DeleteChat(ctx context.Context, db *gorm.DB, chatID domain.ChatID) error {
	return db.WithContext(ctx).
		Where("chat_id = ?", int64(chatID)).
		Delete(&domain.ChatRow{}).Error
}

// ListChats returns every chat the bot has seen, ordered by id.
func ListChats(ctx context.Context, db *gorm.DB) ([]RegisteredChat, error) {
	var rows []domain.ChatRow
	if err := db.WithContext(ctx).Order("chat_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RegisteredChat, 0, len(rows))
	for _, row := range rows {
		var info domain.ChatInfo
		if err := json.Unmarshal([]byte(row.ChatInfoJSON), &info); err != nil {
			return nil, fmt.Errorf("decode chat info for %d: %w", row.ChatID, err)
		}
		out = append(out, RegisteredChat{ChatID: domain.ChatID(row.ChatID), ChatInfo: info})
	}
	return out, nil
}

// GetCapabilities returns the capability flags for a (user, chat) pair.
// Absence is the normal case and yields the all-denied zero value.
func GetCapabilities(ctx context.Context, db *gorm.DB, id domain.UserChatID) (domain.UserChatCapabilities, error) {
	var row domain.UserChatCapabilitiesRow
	err := db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", int64(id.UserID), int64(id.ChatID)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserChatCapabilities{}, nil
	}
	if err != nil {
		return domain.UserChatCapabilities{}, err
	}
	var caps domain.UserChatCapabilities
	if err := json.Unmarshal([]byte(row.CapabilitiesJSON), &caps); err != nil {
		return domain.UserChatCapabilities{}, fmt.Errorf("decode capabilities for %+v: %w", id, err)
	}
	return caps, nil
}

// SaveCapabilities upserts the capability flags for a (user, chat) pair.
func SaveCapabilities(ctx context.Context, db *gorm.DB, id domain.UserChatID, caps domain.UserChatCapabilities) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("serialize capabilities for %+v: %w", id, err)
	}
	res := db.WithContext(ctx).
		Model(&domain.UserChatCapabilitiesRow{}).
		Where("user_id = ? AND chat_id = ?", int64(id.UserID), int64(id.ChatID)).
		Update("capabilities_json", string(data))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	row := domain.UserChatCapabilitiesRow{
		UserID:           int64(id.UserID),
		ChatID:           int64(id.ChatID),
		CapabilitiesJSON: string(data),
	}
	return db.WithContext(ctx).Create(&row).Error
}
