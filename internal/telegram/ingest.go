package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/eventlog"
	"github.com/ogavrilov/welcomebot/internal/metrics"
	"github.com/ogavrilov/welcomebot/internal/queue"
)

// Ingestor drains the Bot API update channel: every update is audited raw,
// converted into domain events, and the events are enqueued in one
// transaction. It does no moderation itself; losing the race to interpret
// an update is not possible because interpretation happens downstream.
type Ingestor struct {
	queue *queue.Queue
	audit *eventlog.Log
	log   zerolog.Logger
}

// NewIngestor builds an Ingestor writing into the given queue and audit log.
func NewIngestor(q *queue.Queue, audit *eventlog.Log, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		queue: q,
		audit: audit,
		log:   log.With().Str("component", "ingest").Logger(),
	}
}

// Run consumes updates until the channel closes or the context ends.
func (i *Ingestor) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			i.handleUpdate(ctx, u)
		}
	}
}

func (i *Ingestor) handleUpdate(ctx context.Context, u tgbotapi.Update) {
	kind := updateKind(u)
	i.audit.LogRaw(ctx, eventlog.SourceBotAPI, kind, u)

	events := EventsFromUpdate(u, domain.Now())
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		i.audit.LogEvent(ctx, ev)
	}
	if err := i.queue.Put(ctx, events...); err != nil {
		// The update is lost for moderation but preserved in the audit log.
		i.log.Error().Err(err).Int("update_id", u.UpdateID).Str("kind", kind).Msg("enqueue failed")
		return
	}
	metrics.EventsIngested.WithLabelValues(kind).Add(float64(len(events)))
}

// EventsFromUpdate maps one Bot API update onto zero or more domain
// events. A single update can produce several: a service message adding
// three members yields three ChatMemberJoined events.
func EventsFromUpdate(u tgbotapi.Update, recv domain.Timestamp) []domain.Event {
	switch {
	case u.Message != nil:
		return eventsFromMessage(u.Message, recv, false)
	case u.EditedMessage != nil:
		return eventsFromMessage(u.EditedMessage, recv, true)
	default:
		// Callback queries, polls, channel posts: audited, not moderated.
		return nil
	}
}

func eventsFromMessage(m *tgbotapi.Message, recv domain.Timestamp, edited bool) []domain.Event {
	var events []domain.Event
	chatInfo := chatInfoOf(m.Chat)
	tgTime := domain.Timestamp(m.Date)

	for _, joined := range m.NewChatMembers {
		joined := joined
		events = append(events, domain.ChatMemberJoined{
			RecvTimestamp: recv,
			UserChatID:    domain.UserChatID{UserID: domain.UserID(joined.ID), ChatID: domain.ChatID(m.Chat.ID)},
			BasicUserInfo: basicUserInfoOf(&joined),
			ChatInfo:      chatInfo,
			TGTimestamp:   tgTime,
		})
	}
	if m.LeftChatMember != nil {
		events = append(events, domain.ChatMemberLeft{
			RecvTimestamp: recv,
			UserChatID:    domain.UserChatID{UserID: domain.UserID(m.LeftChatMember.ID), ChatID: domain.ChatID(m.Chat.ID)},
			TGTimestamp:   tgTime,
		})
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text != "" && m.From != nil {
		events = append(events, domain.NewTextMessage{
			RecvTimestamp: recv,
			UserChatID:    domain.UserChatID{UserID: domain.UserID(m.From.ID), ChatID: domain.ChatID(m.Chat.ID)},
			BasicUserInfo: basicUserInfoOf(m.From),
			ChatInfo:      chatInfo,
			Text:          text,
			IsEdited:      edited,
			MessageID:     domain.MessageID(m.MessageID),
			TGTimestamp:   tgTime,
		})
	}
	return events
}

func chatInfoOf(c *tgbotapi.Chat) domain.ChatInfo {
	if c == nil {
		return domain.ChatInfo{}
	}
	return domain.ChatInfo{Title: c.Title, Type: c.Type}
}

func basicUserInfoOf(u *tgbotapi.User) domain.BasicUserInfo {
	if u == nil {
		return domain.BasicUserInfo{}
	}
	return domain.BasicUserInfo{
		IsBot:     u.IsBot,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func updateKind(u tgbotapi.Update) string {
	switch {
	case u.Message != nil:
		switch {
		case len(u.Message.NewChatMembers) > 0:
			return "new_chat_members"
		case u.Message.LeftChatMember != nil:
			return "left_chat_member"
		default:
			return "message"
		}
	case u.EditedMessage != nil:
		return "edited_message"
	case u.CallbackQuery != nil:
		return "callback_query"
	case u.ChannelPost != nil:
		return "channel_post"
	default:
		return "other"
	}
}
