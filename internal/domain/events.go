package domain

import (
	"encoding/json"
	"fmt"
)

// Event is the canonical payload of the durable queue. The union is closed:
// every variant lives in this package and implements the unexported marker,
// and the codec table below must enumerate all of them. The processor's
// dispatch is expected to be exhaustive over these types.
type Event interface {
	// EventType returns the stable discriminator persisted alongside the
	// serialized payload.
	EventType() string
	// RecvTime returns the ingestion-local receive timestamp. Queue ordering
	// is ascending by this value.
	RecvTime() Timestamp

	isEvent()
}

// BasicUserInfo carries the user fields we track from incoming updates.
type BasicUserInfo struct {
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
}

// NewTextMessage is a new (or edited) text message from a user.
type NewTextMessage struct {
	RecvTimestamp Timestamp     `json:"recv_timestamp"`
	UserChatID    UserChatID    `json:"user_chat_id"`
	BasicUserInfo BasicUserInfo `json:"basic_user_info"`
	ChatInfo      ChatInfo      `json:"chat_info"`
	Text          string        `json:"text"`
	IsEdited      bool          `json:"is_edited"`
	MessageID     MessageID     `json:"message_id"`
	TGTimestamp   Timestamp     `json:"tg_timestamp"`
}

// ChatMemberJoined signals that a user was added to a chat.
type ChatMemberJoined struct {
	RecvTimestamp Timestamp     `json:"recv_timestamp"`
	UserChatID    UserChatID    `json:"user_chat_id"`
	BasicUserInfo BasicUserInfo `json:"basic_user_info"`
	ChatInfo      ChatInfo      `json:"chat_info"`
	TGTimestamp   Timestamp     `json:"tg_timestamp"`
}

// ChatMemberLeft signals that a user left (or was removed from) a chat.
type ChatMemberLeft struct {
	RecvTimestamp Timestamp  `json:"recv_timestamp"`
	UserChatID    UserChatID `json:"user_chat_id"`
	TGTimestamp   Timestamp  `json:"tg_timestamp"`
}

// MessageReactionChanged signals a reaction update on a message. It is
// recorded for the audit trail; moderation takes no action on it.
type MessageReactionChanged struct {
	RecvTimestamp Timestamp  `json:"recv_timestamp"`
	UserChatID    UserChatID `json:"user_chat_id"`
	MessageID     MessageID  `json:"message_id"`
	Emoji         string     `json:"emoji,omitempty"`
	TGTimestamp   Timestamp  `json:"tg_timestamp"`
}

// Periodic drives time-based work: due kicks and the retention sweep. It is
// synthesized by the processor itself, never durably enqueued.
type Periodic struct {
	RecvTimestamp Timestamp `json:"recv_timestamp"`
}

// Stop asks the processor loop to exit after the current iteration.
type Stop struct {
	RecvTimestamp Timestamp `json:"recv_timestamp"`
}

func (e NewTextMessage) EventType() string         { return "NewTextMessage" }
func (e ChatMemberJoined) EventType() string       { return "ChatMemberJoined" }
func (e ChatMemberLeft) EventType() string         { return "ChatMemberLeft" }
func (e MessageReactionChanged) EventType() string { return "MessageReactionChanged" }
func (e Periodic) EventType() string               { return "Periodic" }
func (e Stop) EventType() string                   { return "Stop" }

func (e NewTextMessage) RecvTime() Timestamp         { return e.RecvTimestamp }
func (e ChatMemberJoined) RecvTime() Timestamp       { return e.RecvTimestamp }
func (e ChatMemberLeft) RecvTime() Timestamp         { return e.RecvTimestamp }
func (e MessageReactionChanged) RecvTime() Timestamp { return e.RecvTimestamp }
func (e Periodic) RecvTime() Timestamp               { return e.RecvTimestamp }
func (e Stop) RecvTime() Timestamp                   { return e.RecvTimestamp }

func (NewTextMessage) isEvent()         {}
func (ChatMemberJoined) isEvent()       {}
func (ChatMemberLeft) isEvent()         {}
func (MessageReactionChanged) isEvent() {}
func (Periodic) isEvent()               {}
func (Stop) isEvent()                   {}

// eventDecoders maps the persisted discriminator to a decoder for the
// concrete variant. Adding an event variant without extending this table
// makes DecodeEvent fail loudly, which is the intent.
var eventDecoders = map[string]func([]byte) (Event, error){
	"NewTextMessage":         decodeInto[NewTextMessage],
	"ChatMemberJoined":       decodeInto[ChatMemberJoined],
	"ChatMemberLeft":         decodeInto[ChatMemberLeft],
	"MessageReactionChanged": decodeInto[MessageReactionChanged],
	"Periodic":               decodeInto[Periodic],
	"Stop":                   decodeInto[Stop],
}

func decodeInto[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeEvent serializes an event payload for durable storage. The
// discriminator is stored in its own column, not inside the JSON.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent reconstructs an event from its discriminator and payload.
// An unknown discriminator is an error: it means the queue holds rows
// written by a newer (or corrupted) build.
func DecodeEvent(eventType string, payload []byte) (Event, error) {
	dec, ok := eventDecoders[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	ev, err := dec(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", eventType, err)
	}
	return ev, nil
}
