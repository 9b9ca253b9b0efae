package domain

// GORM row types for the profile/settings store. Profiles, settings, and
// capabilities are serialized JSON blobs; the columns next to them exist for
// the indices the periodic scans rely on.

// UserProfileRow persists one UserProfile. KickAtTimestamp is the derived
// deadline, recomputed on every save so the due-kick scan is a pure index
// lookup.
type UserProfileRow struct {
	ID              int64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID          int64    `gorm:"column:user_id;not null;uniqueIndex:idx_user_chat,priority:1"`
	ChatID          int64    `gorm:"column:chat_id;not null;uniqueIndex:idx_user_chat,priority:2;index:idx_profile_chat"`
	UserProfileJSON string   `gorm:"column:user_profile_json;type:text"`
	KickAtTimestamp *float64 `gorm:"column:kick_at_timestamp;index:idx_users_to_kick_soon,where:kick_at_timestamp IS NOT NULL"`
}

// TableName returns the database table name for UserProfileRow.
func (UserProfileRow) TableName() string { return "user_profiles" }

// ChatSettingsRow persists one ChatSettings blob per chat.
type ChatSettingsRow struct {
	ChatID           int64  `gorm:"column:chat_id;primaryKey"`
	ChatSettingsJSON string `gorm:"column:chat_settings;type:text;not null"`
}

// TableName returns the database table name for ChatSettingsRow.
func (ChatSettingsRow) TableName() string { return "chat_settings" }

// ChatRow registers a chat the bot has seen, with its last known metadata.
type ChatRow struct {
	ChatID       int64  `gorm:"column:chat_id;primaryKey"`
	ChatInfoJSON string `gorm:"column:chat_info;type:text;not null"`
}

// TableName returns the database table name for ChatRow.
func (ChatRow) TableName() string { return "bot_chats" }

// UserChatCapabilitiesRow persists the capability flags per (user, chat).
type UserChatCapabilitiesRow struct {
	UserID           int64  `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	ChatID           int64  `gorm:"column:chat_id;primaryKey;autoIncrement:false"`
	CapabilitiesJSON string `gorm:"column:capabilities_json;type:text;not null"`
}

// TableName returns the database table name for UserChatCapabilitiesRow.
func (UserChatCapabilitiesRow) TableName() string { return "user_chat_capabilities" }

// BotMessageRow records an outbound bot message until the retention sweep
// deletes it. DeleteTimestamp stays null while the message is still in the
// chat; the partial indices below serve the sweep's per-user grouping.
type BotMessageRow struct {
	ID              int64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID          int64    `gorm:"column:user_id;not null;index:idx_bot_messages_per_user,priority:1,where:delete_timestamp IS NULL;uniqueIndex:idx_bot_messages,priority:2,where:delete_timestamp IS NULL"`
	ChatID          int64    `gorm:"column:chat_id;not null;index:idx_bot_messages_per_user,priority:2,where:delete_timestamp IS NULL;uniqueIndex:idx_bot_messages,priority:3,where:delete_timestamp IS NULL"`
	MessageID       int64    `gorm:"column:message_id;not null;uniqueIndex:idx_bot_messages,priority:1,where:delete_timestamp IS NULL"`
	ReplyType       string   `gorm:"column:reply_type;not null"`
	SentTimestamp   float64  `gorm:"column:sent_timestamp;not null"`
	DeleteTimestamp *float64 `gorm:"column:delete_timestamp"`
}

// TableName returns the database table name for BotMessageRow.
func (BotMessageRow) TableName() string { return "bot_messages" }
