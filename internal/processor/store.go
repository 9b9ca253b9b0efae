// Package processor is the single consumer of the durable event queue: it
// dispatches domain events to typed handlers, mutates profile state through
// scoped diff-before-write edits, runs the periodic kick and retention
// sweeps, and interprets admin commands.
package processor

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/repo"
)

// Store is the persistence surface the processor needs. Narrow by intent:
// tests wrap the GORM implementation with counting decorators to observe
// write behavior.
type Store interface {
	// Profile returns the stored profile, or a fresh default when the pair
	// has never been seen. Never errors on a miss.
	Profile(ctx context.Context, id domain.UserChatID) (*domain.UserProfile, error)
	// SaveProfile upserts the profile and atomically recomputes its derived
	// kick deadline from params.
	SaveProfile(ctx context.Context, p *domain.UserProfile, params domain.UserProfileParams) error
	// UsersToKick lists the pairs whose stored kick deadline has passed.
	UsersToKick(ctx context.Context, now domain.Timestamp) ([]domain.UserChatID, error)

	// ChatSettings returns the chat's settings, falling back to the
	// configured defaults when the chat has none stored.
	ChatSettings(ctx context.Context, chatID domain.ChatID) (domain.ChatSettings, error)
	SaveChatSettings(ctx context.Context, chatID domain.ChatID, s domain.ChatSettings) error
	RegisterChat(ctx context.Context, chatID domain.ChatID, info domain.ChatInfo) error
	RemoveChat(ctx context.Context, chatID domain.ChatID) error
	Chats(ctx context.Context) ([]repo.RegisteredChat, error)

	Capabilities(ctx context.Context, id domain.UserChatID) (domain.UserChatCapabilities, error)
	SaveCapabilities(ctx context.Context, id domain.UserChatID, caps domain.UserChatCapabilities) error

	RecordBotMessage(ctx context.Context, m domain.BotMessage) error
	ActiveBotMessagesForUser(ctx context.Context, id domain.UserChatID) ([]domain.BotMessage, error)
	ActiveWelcomeMessagesForChat(ctx context.Context, chatID domain.ChatID) ([]domain.BotMessage, error)
	ActiveChatIDs(ctx context.Context) ([]domain.ChatID, error)
	ActiveUserChatIDs(ctx context.Context) ([]domain.UserChatID, error)
	MarkBotMessageDeleted(ctx context.Context, chatID domain.ChatID, messageID domain.MessageID, at domain.Timestamp) error
}

// GormStore implements Store over the profile/settings database.
type GormStore struct {
	db       *gorm.DB
	defaults domain.ChatSettings
}

// NewGormStore wraps an opened store database. defaults is the settings
// blob used for chats with no stored row.
func NewGormStore(db *gorm.DB, defaults domain.ChatSettings) *GormStore {
	return &GormStore{db: db, defaults: defaults}
}

// Profile implements Store.
func (s *GormStore) Profile(ctx context.Context, id domain.UserChatID) (*domain.UserProfile, error) {
	p, err := repo.GetUserProfile(ctx, s.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NewUserProfile(id), nil
	}
	return p, err
}

// SaveProfile implements Store.
func (s *GormStore) SaveProfile(ctx context.Context, p *domain.UserProfile, params domain.UserProfileParams) error {
	return repo.SaveUserProfile(ctx, s.db, p, p.KickAtTimestamp(params))
}

// UsersToKick implements Store.
func (s *GormStore) UsersToKick(ctx context.Context, now domain.Timestamp) ([]domain.UserChatID, error) {
	profiles, err := repo.ListProfilesWithDueKick(ctx, s.db, now)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserChatID, len(profiles))
	for i, p := range profiles {
		out[i] = p.UserChatID
	}
	return out, nil
}

// ChatSettings implements Store.
func (s *GormStore) ChatSettings(ctx context.Context, chatID domain.ChatID) (domain.ChatSettings, error) {
	settings, err := repo.GetChatSettings(ctx, s.db, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return s.defaults, nil
	}
	return settings, err
}

// SaveChatSettings implements Store.
func (s *GormStore) SaveChatSettings(ctx context.Context, chatID domain.ChatID, settings domain.ChatSettings) error {
	return repo.SaveChatSettings(ctx, s.db, chatID, settings)
}

// RegisterChat implements Store.
func (s *GormStore) RegisterChat(ctx context.Context, chatID domain.ChatID, info domain.ChatInfo) error {
	return repo.UpsertChat(ctx, s.db, chatID, info)
}

// RemoveChat implements Store.
func (s *GormStore) RemoveChat(ctx context.Context, chatID domain.ChatID) error {
	return repo.DeleteChat(ctx, s.db, chatID)
}

// Chats implements Store.
func (s *GormStore) Chats(ctx context.Context) ([]repo.RegisteredChat, error) {
	return repo.ListChats(ctx, s.db)
}

// Capabilities implements Store.
func (s *GormStore) Capabilities(ctx context.Context, id domain.UserChatID) (domain.UserChatCapabilities, error) {
	return repo.GetCapabilities(ctx, s.db, id)
}

// SaveCapabilities implements Store.
func (s *GormStore) SaveCapabilities(ctx context.Context, id domain.UserChatID, caps domain.UserChatCapabilities) error {
	return repo.SaveCapabilities(ctx, s.db, id, caps)
}

// RecordBotMessage implements Store.
func (s *GormStore) RecordBotMessage(ctx context.Context, m domain.BotMessage) error {
	return repo.RecordBotMessage(ctx, s.db, m)
}

// ActiveBotMessagesForUser implements Store.
func (s *GormStore) ActiveBotMessagesForUser(ctx context.Context, id domain.UserChatID) ([]domain.BotMessage, error) {
	return repo.ListActiveBotMessagesForUser(ctx, s.db, id)
}

// ActiveWelcomeMessagesForChat implements Store.
func (s *GormStore) ActiveWelcomeMessagesForChat(ctx context.Context, chatID domain.ChatID) ([]domain.BotMessage, error) {
	return repo.ListActiveWelcomeMessagesForChat(ctx, s.db, chatID)
}

// ActiveChatIDs implements Store.
func (s *GormStore) ActiveChatIDs(ctx context.Context) ([]domain.ChatID, error) {
	return repo.ListActiveChatIDs(ctx, s.db)
}

// ActiveUserChatIDs implements Store.
func (s *GormStore) ActiveUserChatIDs(ctx context.Context) ([]domain.UserChatID, error) {
	return repo.ListActiveUserChatIDs(ctx, s.db)
}

// MarkBotMessageDeleted implements Store.
func (s *GormStore) MarkBotMessageDeleted(ctx context.Context, chatID domain.ChatID, messageID domain.MessageID, at domain.Timestamp) error {
	return repo.MarkBotMessageDeleted(ctx, s.db, chatID, messageID, at)
}
