package processor

import (
	"context"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/metrics"
)

// retentionSweep bounds bot clutter in chats. Two passes over the
// still-present bot messages:
//
//  1. WELCOME messages grouped per chat, with welcome deletion enabled:
//     a chat keeps at most one welcome message.
//  2. All messages grouped per (user, chat), with welcome deletion
//     disabled: welcomes count toward "which message is last" but the
//     chat-level pass owns actually deleting them.
//
// Each group keeps its newest message and deletes the rest, then the
// retained one is deleted once its type TTL has elapsed. Failures are
// logged and the row stays active, so the next sweep retries.
func (p *Processor) retentionSweep(ctx context.Context, now domain.Timestamp) {
	chats, err := p.store.ActiveChatIDs(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("retention: chat scan failed")
		return
	}
	for _, chatID := range chats {
		settings, err := p.store.ChatSettings(ctx, chatID)
		if err != nil {
			p.log.Error().Err(err).Int64("chat_id", int64(chatID)).Msg("retention: settings load failed")
			continue
		}
		msgs, err := p.store.ActiveWelcomeMessagesForChat(ctx, chatID)
		if err != nil {
			p.log.Error().Err(err).Int64("chat_id", int64(chatID)).Msg("retention: welcome scan failed")
			continue
		}
		p.sweepGroup(ctx, settings, msgs, true, now)
	}

	pairs, err := p.store.ActiveUserChatIDs(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("retention: user scan failed")
		return
	}
	for _, id := range pairs {
		settings, err := p.store.ChatSettings(ctx, id.ChatID)
		if err != nil {
			p.log.Error().Err(err).Int64("chat_id", int64(id.ChatID)).Msg("retention: settings load failed")
			continue
		}
		msgs, err := p.store.ActiveBotMessagesForUser(ctx, id)
		if err != nil {
			p.log.Error().Err(err).
				Int64("user_id", int64(id.UserID)).
				Int64("chat_id", int64(id.ChatID)).
				Msg("retention: message scan failed")
			continue
		}
		p.sweepGroup(ctx, settings, msgs, false, now)
	}
}

// sweepGroup applies keep-last-then-TTL to one group of messages, sorted
// ascending by send time.
func (p *Processor) sweepGroup(ctx context.Context, settings domain.ChatSettings, msgs []domain.BotMessage, deleteWelcome bool, now domain.Timestamp) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	for _, m := range msgs[:len(msgs)-1] {
		if m.ReplyType == domain.ReplyWelcome && !deleteWelcome {
			continue
		}
		p.deleteBotMessage(ctx, settings, m, now)
	}

	if last.ReplyType == domain.ReplyWelcome && !deleteWelcome {
		return
	}
	if _, err := domain.ParseBotReplyType(string(last.ReplyType)); err != nil {
		p.log.Error().Err(err).Int64("message_id", int64(last.MessageID)).Msg("retention: unknown reply type")
		return
	}
	ttl := settings.BotReplies.Get(last.ReplyType).TTL
	if float64(now-last.SentTimestamp) >= float64(ttl) {
		p.deleteBotMessage(ctx, settings, last, now)
	}
}

// deleteBotMessage removes one message from the chat it was actually sent
// to (the sink under dark launch) and marks it deleted on success.
func (p *Processor) deleteBotMessage(ctx context.Context, settings domain.ChatSettings, m domain.BotMessage, now domain.Timestamp) {
	dest := m.UserChatID.ChatID
	if settings.DarkLaunchSinkChatID != nil {
		dest = *settings.DarkLaunchSinkChatID
	}
	if err := p.client.DeleteMessage(ctx, dest, m.MessageID); err != nil {
		p.log.Error().Err(err).
			Int64("chat_id", int64(dest)).
			Int64("message_id", int64(m.MessageID)).
			Msg("retention: delete failed")
		return
	}
	if err := p.store.MarkBotMessageDeleted(ctx, m.UserChatID.ChatID, m.MessageID, now); err != nil {
		p.log.Error().Err(err).
			Int64("chat_id", int64(m.UserChatID.ChatID)).
			Int64("message_id", int64(m.MessageID)).
			Msg("retention: mark deleted failed")
		return
	}
	metrics.BotMessagesDeleted.Inc()
}
