// Package repo implements the persistence layer for the bot's durable
// state, backed by GORM. This file provides repository functions for user
// profiles.
//
// Profiles are stored as JSON blobs keyed by (user_id, chat_id). The
// derived kick deadline is persisted in its own indexed column next to the
// blob, so the periodic due-kick scan never has to deserialize profiles
// that are not due.
//
// Error semantics follow the rest of the package: a missing row surfaces
// as gorm.ErrRecordNotFound (aliased as ErrNotFound); other DB errors are
// propagated raw.
package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the processor and the admin command handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUserProfile fetches the profile for one (user, chat) pair. Returns
// ErrNotFound when the user has never been seen in the chat.
func GetUserProfile(ctx context.Context, db *gorm.DB, id domain.UserChatID) (*domain.UserProfile, error) {
	var row domain.UserProfileRow
	err := db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", int64(id.UserID), int64(id.ChatID)).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return decodeProfile(&row)
}

// SaveUserProfile upserts a profile blob together with its derived kick
// deadline. kickAt must be recomputed by the caller from the same profile
// and the chat's current settings; passing nil clears the deadline.
func SaveUserProfile(ctx context.Context, db *gorm.DB, p *domain.UserProfile, kickAt *domain.Timestamp) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("serialize profile %+v: %w", p.UserChatID, err)
	}
	var kickCol *float64
	if kickAt != nil {
		v := float64(*kickAt)
		kickCol = &v
	}

	res := db.WithContext(ctx).
		Model(&domain.UserProfileRow{}).
		Where("user_id = ? AND chat_id = ?", int64(p.UserChatID.UserID), int64(p.UserChatID.ChatID)).
		Updates(map[string]any{
			"user_profile_json": string(data),
			"kick_at_timestamp": kickCol,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	row := domain.UserProfileRow{
		UserID:          int64(p.UserChatID.UserID),
		ChatID:          int64(p.UserChatID.ChatID),
		UserProfileJSON: string(data),
		KickAtTimestamp: kickCol,
	}
	return db.WithContext(ctx).Create(&row).Error
}

// ListProfilesWithDueKick returns profiles whose kick deadline has passed,
// earliest deadline first. Served entirely by the partial index.
func ListProfilesWithDueKick(ctx context.Context, db *gorm.DB, now domain.Timestamp) ([]*domain.UserProfile, error) {
	var rows []domain.UserProfileRow
	err := db.WithContext(ctx).
		Where("kick_at_timestamp IS NOT NULL AND kick_at_timestamp <= ?", float64(now)).
		Order("kick_at_timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.UserProfile, 0, len(rows))
	for i := range rows {
		p, err := decodeProfile(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListProfilesForChat returns every profile stored for a chat. Used when
// moderation is toggled for a chat and all pending deadlines must be
// recomputed.
func ListProfilesForChat(ctx context.Context, db *gorm.DB, chatID domain.ChatID) ([]*domain.UserProfile, error) {
	var rows []domain.UserProfileRow
	err := db.WithContext(ctx).
		Where("chat_id = ?", int64(chatID)).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.UserProfile, 0, len(rows))
	for i := range rows {
		p, err := decodeProfile(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeProfile(row *domain.UserProfileRow) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := json.Unmarshal([]byte(row.UserProfileJSON), &p); err != nil {
		return nil, fmt.Errorf("decode profile row %d: %w", row.ID, err)
	}
	return &p, nil
}
