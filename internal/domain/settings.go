package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BotReplyType enumerates the reply templates the bot can send.
type BotReplyType string

const (
	ReplyIchbinRequest   BotReplyType = "ICHBIN_REQUEST"
	ReplyWelcome         BotReplyType = "WELCOME"
	ReplyWelcomeAgain    BotReplyType = "WELCOME_AGAIN"
	ReplyNotMuchTimeLeft BotReplyType = "NOT_MUCH_TIME_LEFT_TO_WRITE_ICHBIN"
	ReplyUserIsKicked    BotReplyType = "USER_IS_KICKED"
)

// ParseBotReplyType validates a reply type string (admin set_message input).
func ParseBotReplyType(s string) (BotReplyType, error) {
	switch t := BotReplyType(s); t {
	case ReplyIchbinRequest, ReplyWelcome, ReplyWelcomeAgain, ReplyNotMuchTimeLeft, ReplyUserIsKicked:
		return t, nil
	default:
		return "", fmt.Errorf("unknown bot reply type %q", s)
	}
}

// BotReply is one outbound template plus how long the sent message may live
// in the chat before the retention sweep removes it.
type BotReply struct {
	// TemplateHTML supports $USER and $TAG placeholders.
	TemplateHTML string  `json:"template_html"`
	TTL          Seconds `json:"ttl"`
}

// Default reply templates.
const (
	ichbinRequestHTML   = "Hello, $USER! Please introduce yourself with a message containing $TAG."
	notMuchTimeLeftHTML = "You don't have much time left to write a message with $TAG, please do it now!"
	welcomeHTML         = "Welcome, $USER!"
	welcomeAgainHTML    = "Welcome again, $USER!"
	userIsKickedHTML    = "$USER didn't write $TAG, so they were kicked."
)

// BotReplies holds one template per reply type.
type BotReplies struct {
	IchbinRequest   BotReply `json:"ichbin_request"`
	NotMuchTimeLeft BotReply `json:"not_much_time_left_to_write_ichbin"`
	Welcome         BotReply `json:"welcome"`
	WelcomeAgain    BotReply `json:"welcome_again"`
	UserIsKicked    BotReply `json:"user_is_kicked"`
}

// DefaultBotReplies returns the built-in templates and TTLs.
func DefaultBotReplies() BotReplies {
	return BotReplies{
		IchbinRequest:   BotReply{TemplateHTML: ichbinRequestHTML, TTL: DurationSeconds(72 * time.Hour)},
		NotMuchTimeLeft: BotReply{TemplateHTML: notMuchTimeLeftHTML, TTL: DurationSeconds(72 * time.Hour)},
		Welcome:         BotReply{TemplateHTML: welcomeHTML, TTL: DurationSeconds(72 * time.Hour)},
		WelcomeAgain:    BotReply{TemplateHTML: welcomeAgainHTML, TTL: DurationSeconds(5 * time.Minute)},
		UserIsKicked:    BotReply{TemplateHTML: userIsKickedHTML, TTL: DurationSeconds(time.Hour)},
	}
}

// Get returns the template for a reply type.
func (r *BotReplies) Get(t BotReplyType) *BotReply {
	switch t {
	case ReplyIchbinRequest:
		return &r.IchbinRequest
	case ReplyNotMuchTimeLeft:
		return &r.NotMuchTimeLeft
	case ReplyWelcome:
		return &r.Welcome
	case ReplyWelcomeAgain:
		return &r.WelcomeAgain
	case ReplyUserIsKicked:
		return &r.UserIsKicked
	default:
		// The enum is closed; reaching this is a programming error upstream
		// (ParseBotReplyType guards all external input).
		panic(fmt.Sprintf("unknown bot reply type %q", t))
	}
}

// DefaultIntroductionTag is the marker string new members must include in a
// message to satisfy moderation.
const DefaultIntroductionTag = "#ichbin"

// ChatSettings is the per-chat moderation configuration, stored as a JSON
// blob keyed by chat id.
type ChatSettings struct {
	// IchbinEnabled toggles moderation for the chat.
	IchbinEnabled bool       `json:"ichbin_enabled"`
	BotReplies    BotReplies `json:"bot_replies"`
	// IntroductionTag must appear in a member's message to count as an
	// introduction.
	IntroductionTag string `json:"introduction_tag"`

	// BanDuration is passed to the ban call on a kick.
	BanDuration Seconds `json:"ban_duration"`
	// IchbinWaitingTime is how long a new member has to introduce themself.
	IchbinWaitingTime Seconds `json:"ichbin_waiting_time"`
	// ExtraIchbinWaitingTimeAfterRejoining is the minimum notice window a
	// user gets when rejoining close to (or past) their original deadline.
	ExtraIchbinWaitingTimeAfterRejoining Seconds `json:"extra_ichbin_waiting_time_after_rejoining"`
	// DarkLaunchSinkChatID redirects all outbound bot actions to a test chat
	// and turns kicks into simulated ones.
	DarkLaunchSinkChatID *ChatID `json:"dark_launch_sink_chat_id,omitempty"`
	// FailedKickRetryTime is how long to wait before retrying a failed kick.
	FailedKickRetryTime Seconds `json:"failed_kick_retry_time"`
}

// DefaultChatSettings returns the settings used for chats with no stored
// row. Moderation starts disabled; an admin enables it per chat.
func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		IchbinEnabled:                        false,
		BotReplies:                           DefaultBotReplies(),
		IntroductionTag:                      DefaultIntroductionTag,
		BanDuration:                          DurationSeconds(time.Minute),
		IchbinWaitingTime:                    DurationSeconds(72 * time.Hour),
		ExtraIchbinWaitingTimeAfterRejoining: DurationSeconds(time.Hour),
		FailedKickRetryTime:                  DurationSeconds(time.Hour),
	}
}

// ParseChatSettings decodes a settings blob (admin set_settings input or the
// DEFAULT_CHAT_SETTINGS_JSON override).
func ParseChatSettings(data []byte) (ChatSettings, error) {
	s := DefaultChatSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return ChatSettings{}, fmt.Errorf("parse chat settings: %w", err)
	}
	if s.IntroductionTag == "" {
		return ChatSettings{}, fmt.Errorf("chat settings: introduction_tag must not be empty")
	}
	return s, nil
}

// ProfileParams extracts the kick-deadline inputs from the settings.
func (s ChatSettings) ProfileParams() UserProfileParams {
	return UserProfileParams{
		IchbinWaitingTime:   s.IchbinWaitingTime,
		FailedKickRetryTime: s.FailedKickRetryTime,
	}
}
