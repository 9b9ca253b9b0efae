package domain

// PresenceInfo tracks whether the user is currently in the chat and how
// they last left it.
type PresenceInfo struct {
	// JoinedTimestamp is when the user joined the chat.
	JoinedTimestamp *Timestamp `json:"joined_timestamp,omitempty"`
	// KickTimestamp is when the bot kicked the user.
	KickTimestamp *Timestamp `json:"kick_timestamp,omitempty"`
	// LeftTimestamp is when the user left on their own.
	LeftTimestamp *Timestamp `json:"left_timestamp,omitempty"`
	// TreatAsLeft marks a simulated (dark launch) kick: the user is still in
	// the chat but moderation treats them as gone.
	TreatAsLeft bool `json:"treat_as_left,omitempty"`
	// FailedKickTimestamp is when the last kick attempt failed.
	FailedKickTimestamp *Timestamp `json:"failed_kick_timestamp,omitempty"`
}

// IsPresent reports whether the user currently counts as a chat member.
func (p PresenceInfo) IsPresent() bool {
	if p.TreatAsLeft {
		return false
	}
	if p.JoinedTimestamp == nil {
		return false
	}
	if p.LeftTimestamp != nil || p.KickTimestamp != nil {
		return false
	}
	return true
}

// UserProfileParams are the chat-settings-derived inputs to the kick
// deadline computation.
type UserProfileParams struct {
	// IchbinWaitingTime is how long the user has to post the introduction.
	IchbinWaitingTime Seconds
	// FailedKickRetryTime is how long to back off after a failed kick.
	FailedKickRetryTime Seconds
}

// UserProfile is the durable per-(user,chat) moderation state. It is stored
// as a JSON blob; the derived kick deadline is persisted next to it as a
// queryable column by the repo layer.
type UserProfile struct {
	UserChatID   UserChatID   `json:"user_chat_id"`
	PresenceInfo PresenceInfo `json:"presence_info"`

	// BasicUserInfo is refreshed from every update that carries user fields.
	BasicUserInfo *BasicUserInfo `json:"basic_user_info,omitempty"`

	// IchbinRequestTimestamp is when the introduction request message was
	// sent. Anchors the kick deadline.
	IchbinRequestTimestamp *Timestamp `json:"ichbin_request_timestamp,omitempty"`
	// ExtraGraceTime is cumulative extra seconds granted on top of the
	// waiting time, e.g. after a rejoin close to the deadline.
	ExtraGraceTime float64 `json:"extra_grace_time,omitempty"`
	// IchbinMessageTimestamp is when the user satisfied the introduction
	// requirement. Non-nil means no kick deadline.
	IchbinMessageTimestamp *Timestamp `json:"ichbin_message_timestamp,omitempty"`
	// ForgivenTimestamp is set when moderation was disabled while this user
	// had a pending kick; they are excused permanently.
	ForgivenTimestamp *Timestamp `json:"forgiven_timestamp,omitempty"`
}

// NewUserProfile returns the empty profile used when no row exists yet.
func NewUserProfile(id UserChatID) *UserProfile {
	return &UserProfile{UserChatID: id}
}

// OnJoined resets presence to a fresh join. Prior kick/left markers are
// discarded so a rejoining user is tracked from scratch.
func (u *UserProfile) OnJoined(joined Timestamp) {
	u.PresenceInfo = PresenceInfo{JoinedTimestamp: &joined}
}

// OnLeft records that the user left the chat.
func (u *UserProfile) OnLeft(left Timestamp) {
	u.PresenceInfo.LeftTimestamp = &left
}

// OnKicked records a successful kick. Under dark launch no real ban
// happened, so the user is additionally marked treat-as-left.
func (u *UserProfile) OnKicked(kicked Timestamp, darkLaunch bool) {
	u.PresenceInfo.KickTimestamp = &kicked
	if darkLaunch {
		u.PresenceInfo.TreatAsLeft = true
	}
}

// OnFailedToKick records a kick attempt that the platform rejected; the
// deadline derivation pushes the retry out by FailedKickRetryTime.
func (u *UserProfile) OnFailedToKick(at Timestamp) {
	u.PresenceInfo.FailedKickTimestamp = &at
}

// FirstName returns the user's first name, if known.
func (u *UserProfile) FirstName() string {
	if u.BasicUserInfo == nil {
		return ""
	}
	return u.BasicUserInfo.FirstName
}

// LastName returns the user's last name, if known.
func (u *UserProfile) LastName() string {
	if u.BasicUserInfo == nil {
		return ""
	}
	return u.BasicUserInfo.LastName
}

// IsWaitingForIchbinMessage reports whether an introduction has been
// requested but neither satisfied nor forgiven.
func (u *UserProfile) IsWaitingForIchbinMessage() bool {
	return u.IchbinRequestTimestamp != nil &&
		u.IchbinMessageTimestamp == nil &&
		u.ForgivenTimestamp == nil
}

// AddExtraGraceTime grants additional seconds before the kick deadline.
func (u *UserProfile) AddExtraGraceTime(seconds float64) {
	u.ExtraGraceTime += seconds
}

// KickAtTimestamp derives the kick deadline, or nil when the user has none:
// absent users and users that are not waiting (satisfied, forgiven, never
// asked) are never kicked. A failed kick pushes the deadline to at least
// failed_kick_timestamp + retry time.
func (u *UserProfile) KickAtTimestamp(params UserProfileParams) *Timestamp {
	if !u.PresenceInfo.IsPresent() {
		return nil
	}
	if !u.IsWaitingForIchbinMessage() {
		return nil
	}
	result := *u.IchbinRequestTimestamp +
		Timestamp(params.IchbinWaitingTime) +
		Timestamp(u.ExtraGraceTime)
	if u.PresenceInfo.FailedKickTimestamp != nil {
		retryAt := *u.PresenceInfo.FailedKickTimestamp + Timestamp(params.FailedKickRetryTime)
		if retryAt > result {
			result = retryAt
		}
	}
	return &result
}

// UserChatCapabilities gates the privileged admin sub-commands per
// (user, chat). The root admin bypasses this table entirely.
type UserChatCapabilities struct {
	// CanUpdateCapabilities allows editing other users' capabilities. This
	// is the dangerous one: it transitively grants everything else.
	CanUpdateCapabilities bool `json:"can_update_capabilities"`
	// CanUpdateSettings allows reading and writing chat settings.
	CanUpdateSettings bool `json:"can_update_settings"`
	// CanSendMessagesFromBot allows sending arbitrary text as the bot.
	CanSendMessagesFromBot bool `json:"can_send_messages_from_bot"`
	// CanViewTracebacks allows receiving error detail; only consulted for
	// the caller's private chat.
	CanViewTracebacks bool `json:"can_view_tracebacks"`
}

// RootCapabilities returns the all-granted capability set used for the
// configured root admin.
func RootCapabilities() UserChatCapabilities {
	return UserChatCapabilities{
		CanUpdateCapabilities:  true,
		CanUpdateSettings:      true,
		CanSendMessagesFromBot: true,
		CanViewTracebacks:      true,
	}
}

// BotMessage records a message the bot sent, so the retention sweep can
// clean it up later.
type BotMessage struct {
	UserChatID    UserChatID   `json:"user_chat_id"`
	MessageID     MessageID    `json:"message_id"`
	ReplyType     BotReplyType `json:"reply_type"`
	SentTimestamp Timestamp    `json:"sent_timestamp"`
}
