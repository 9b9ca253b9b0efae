// Package telegram adapts the Bot API to the rest of the bot: an outbound
// client narrowed to the calls moderation needs, and the inbound ingestion
// path that turns raw updates into durable queue events.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// SentMessage is what the caller needs to track an outbound message for
// later retention cleanup.
type SentMessage struct {
	MessageID     domain.MessageID
	SentTimestamp domain.Timestamp
}

// Client is the outbound Telegram surface used by the processor. Narrow on
// purpose: tests substitute a recording fake, and dark launch wraps it at
// the call sites by redirecting chat ids.
type Client interface {
	// SendHTMLMessage sends an HTML-formatted message, optionally as a reply.
	// replyTo == 0 means no reply threading.
	SendHTMLMessage(ctx context.Context, chatID domain.ChatID, html string, replyTo domain.MessageID) (SentMessage, error)
	// DeleteMessage removes a message the bot previously sent.
	DeleteMessage(ctx context.Context, chatID domain.ChatID, messageID domain.MessageID) error
	// BanChatMember kicks a user and keeps them out until the given time.
	BanChatMember(ctx context.Context, chatID domain.ChatID, userID domain.UserID, until domain.Timestamp) error
}

// BotClient implements Client over the Bot API, throttled by a shared rate
// limiter so bursts of moderation work stay inside Telegram's limits.
type BotClient struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewBotClient wraps an authorized Bot API handle. callsPerSecond bounds
// outbound requests; <= 0 falls back to a conservative 20/s.
func NewBotClient(api *tgbotapi.BotAPI, callsPerSecond float64, log zerolog.Logger) *BotClient {
	if callsPerSecond <= 0 {
		callsPerSecond = 20
	}
	return &BotClient{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
		log:     log.With().Str("component", "telegram").Logger(),
	}
}

// SendHTMLMessage implements Client.
func (c *BotClient) SendHTMLMessage(ctx context.Context, chatID domain.ChatID, html string, replyTo domain.MessageID) (SentMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SentMessage{}, err
	}
	msg := tgbotapi.NewMessage(int64(chatID), html)
	msg.ParseMode = tgbotapi.ModeHTML
	if replyTo != 0 {
		msg.ReplyToMessageID = int(replyTo)
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return SentMessage{}, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	c.log.Debug().Int64("chat_id", int64(chatID)).Int("message_id", sent.MessageID).Msg("message sent")
	return SentMessage{
		MessageID:     domain.MessageID(sent.MessageID),
		SentTimestamp: domain.Now(),
	}, nil
}

// DeleteMessage implements Client.
func (c *BotClient) DeleteMessage(ctx context.Context, chatID domain.ChatID, messageID domain.MessageID) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.DeleteMessageConfig{
		ChatID:    int64(chatID),
		MessageID: int(messageID),
	})
	if err != nil {
		return fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// BanChatMember implements Client.
func (c *BotClient) BanChatMember(ctx context.Context, chatID domain.ChatID, userID domain.UserID, until domain.Timestamp) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: int64(chatID),
			UserID: int64(userID),
		},
		UntilDate: int64(until.Time().Unix()),
	})
	if err != nil {
		return fmt.Errorf("ban user %d in chat %d: %w", userID, chatID, err)
	}
	c.log.Info().Int64("chat_id", int64(chatID)).Int64("user_id", int64(userID)).Msg("user banned")
	return nil
}
