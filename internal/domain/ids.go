// Package domain defines the core model of the welcome bot: identifiers,
// the canonical event union, user profiles with derived kick deadlines,
// per-chat settings, and the GORM row types they are persisted through.
package domain

import "time"

// UserID is a Telegram user identifier.
type UserID int64

// ChatID is a Telegram chat identifier. Group chats are negative numbers,
// private chats equal the peer's user id.
type ChatID int64

// MessageID is a message identifier as seen by the Bot API. It is only
// unique within one chat.
type MessageID int64

// Timestamp is a UTC timestamp in seconds, stored as a float to preserve
// sub-second precision across the queue, the profile store, and the audit
// log. The zero value means "unset" where a pointer is not used.
type Timestamp float64

// Now returns the current local UTC timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time into a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(float64(t.UnixNano()) / float64(time.Second))
}

// Time converts the timestamp back into a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(float64(ts)*float64(time.Second))).UTC()
}

// Add shifts the timestamp forward by d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return ts + Timestamp(d.Seconds())
}

// Sub returns the duration between two timestamps.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(float64(ts-other) * float64(time.Second))
}

// Seconds is a duration persisted as a plain number of seconds, so settings
// blobs stay readable and editable via the admin set_settings command.
type Seconds float64

// DurationSeconds converts a time.Duration into Seconds.
func DurationSeconds(d time.Duration) Seconds {
	return Seconds(d.Seconds())
}

// Duration converts Seconds back into a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// UserChatID identifies a user within a chat. The same user in two different
// chats is treated as two independent profiles.
type UserChatID struct {
	UserID UserID `json:"user_id"`
	ChatID ChatID `json:"chat_id"`
}

// ChatInfo is the minimal chat metadata we keep for registered chats.
type ChatInfo struct {
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
}

// IsPrivate reports whether the chat is a one-on-one conversation with the
// bot. Tracebacks may be shown inline only in private chats.
func (c ChatInfo) IsPrivate() bool {
	return c.Type == "private"
}
