package processor

import (
	"context"
	"strings"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/metrics"
	"github.com/ogavrilov/welcomebot/internal/telegram"
)

// renderReply expands the template placeholders: $USER becomes a clickable
// mention of the target user, $TAG the chat's introduction tag. All
// interpolated values are HTML-escaped; the template itself is trusted
// (admin-controlled).
func renderReply(template string, id domain.UserChatID, info domain.BasicUserInfo, tag string) string {
	out := strings.ReplaceAll(template, "$USER", telegram.UserMentionHTML(id.UserID, info.FirstName, info.LastName))
	out = strings.ReplaceAll(out, "$TAG", telegram.EscapeHTML(tag))
	return out
}

// sendReply sends one templated reply to the user's chat and records it for
// the retention sweep. Under dark launch the message goes to the sink chat
// instead (and reply threading is dropped: the trigger message does not
// exist there), but it is recorded against the logical chat.
func (p *Processor) sendReply(ctx context.Context, settings domain.ChatSettings, id domain.UserChatID, info domain.BasicUserInfo, replyType domain.BotReplyType, replyTo domain.MessageID) (telegram.SentMessage, error) {
	reply := settings.BotReplies.Get(replyType)
	text := renderReply(reply.TemplateHTML, id, info, settings.IntroductionTag)

	dest := id.ChatID
	if settings.DarkLaunchSinkChatID != nil {
		dest = *settings.DarkLaunchSinkChatID
		replyTo = 0
	}

	sent, err := p.client.SendHTMLMessage(ctx, dest, text, replyTo)
	if err != nil {
		return telegram.SentMessage{}, err
	}
	metrics.RepliesSent.WithLabelValues(string(replyType)).Inc()

	err = p.store.RecordBotMessage(ctx, domain.BotMessage{
		UserChatID:    id,
		MessageID:     sent.MessageID,
		ReplyType:     replyType,
		SentTimestamp: sent.SentTimestamp,
	})
	if err != nil {
		// The message is out but untracked; retention will never clean it.
		p.log.Error().Err(err).
			Int64("chat_id", int64(id.ChatID)).
			Int64("message_id", int64(sent.MessageID)).
			Msg("record bot message failed")
	}
	return sent, nil
}
