package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/telegram"
)

// ErrMissingCapabilities marks an authorization failure on an admin
// command. Its message is user-facing; anything wrapped around it is
// detail subject to the traceback disclosure rules.
var ErrMissingCapabilities = errors.New("insufficient capabilities")

// handleAdminCommand interprets one "<prefix><name> <args...>" message and
// always answers as a reply to the trigger.
func (p *Processor) handleAdminCommand(ctx context.Context, ev domain.NewTextMessage) error {
	reply, err := p.runAdminCommand(ctx, ev)
	if err != nil {
		p.log.Warn().Err(err).
			Int64("user_id", int64(ev.UserChatID.UserID)).
			Int64("chat_id", int64(ev.UserChatID.ChatID)).
			Str("text", ev.Text).
			Msg("admin command failed")
		reply = p.adminErrorReply(ctx, ev, err)
	}
	_, sendErr := p.client.SendHTMLMessage(ctx, ev.UserChatID.ChatID, reply, ev.MessageID)
	return sendErr
}

func (p *Processor) runAdminCommand(ctx context.Context, ev domain.NewTextMessage) (string, error) {
	line := strings.TrimPrefix(ev.Text, p.cfg.CommandPrefix)
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	caller := ev.UserChatID.UserID

	switch name {
	case "message":
		return p.cmdMessage(ctx, caller, rest)
	case "chats":
		return p.cmdChats(ctx, caller)
	case "get_settings":
		return p.cmdGetSettings(ctx, caller, rest)
	case "set_settings":
		return p.cmdSetSettings(ctx, caller, rest)
	case "set_message":
		return p.cmdSetMessage(ctx, caller, rest)
	case "chat_enable":
		return p.cmdToggleChat(ctx, caller, rest, true)
	case "chat_disable":
		return p.cmdToggleChat(ctx, caller, rest, false)
	case "set_caps":
		return p.cmdSetCaps(ctx, caller, rest)
	case "get_caps":
		return p.cmdGetCaps(ctx, caller, rest)
	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
}

func (p *Processor) isRoot(u domain.UserID) bool {
	return p.cfg.RootAdminUserID != 0 && u == p.cfg.RootAdminUserID
}

// requireCapability checks one capability flag of the caller in a chat.
// The root admin passes unconditionally.
func (p *Processor) requireCapability(ctx context.Context, caller domain.UserID, chat domain.ChatID, name string, sel func(domain.UserChatCapabilities) bool) error {
	if p.isRoot(caller) {
		return nil
	}
	caps, err := p.store.Capabilities(ctx, domain.UserChatID{UserID: caller, ChatID: chat})
	if err != nil {
		return err
	}
	if !sel(caps) {
		return fmt.Errorf("%w: %s required in chat %d", ErrMissingCapabilities, name, chat)
	}
	return nil
}

func (p *Processor) cmdMessage(ctx context.Context, caller domain.UserID, rest string) (string, error) {
	chatArg, text, _ := strings.Cut(rest, " ")
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("usage: message <chat_id> <text>")
	}
	err = p.requireCapability(ctx, caller, chatID, "can_send_messages_from_bot",
		func(c domain.UserChatCapabilities) bool { return c.CanSendMessagesFromBot })
	if err != nil {
		return "", err
	}
	if _, err := p.client.SendHTMLMessage(ctx, chatID, telegram.EscapeHTML(text), 0); err != nil {
		return "", err
	}
	return "Message sent.", nil
}

func (p *Processor) cmdChats(ctx context.Context, caller domain.UserID) (string, error) {
	chats, err := p.store.Chats(ctx)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, c := range chats {
		if !p.isRoot(caller) {
			caps, err := p.store.Capabilities(ctx, domain.UserChatID{UserID: caller, ChatID: c.ChatID})
			if err != nil {
				return "", err
			}
			if !caps.CanUpdateSettings {
				continue
			}
		}
		settings, err := p.store.ChatSettings(ctx, c.ChatID)
		if err != nil {
			return "", err
		}
		status := "disabled"
		if settings.IchbinEnabled {
			status = "enabled"
		}
		title := c.ChatInfo.Title
		if title == "" {
			title = "(untitled)"
		}
		lines = append(lines, fmt.Sprintf("%d %s - %s", c.ChatID, telegram.EscapeHTML(title), status))
	}
	if len(lines) == 0 {
		return "No chats.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (p *Processor) cmdGetSettings(ctx context.Context, caller domain.UserID, rest string) (string, error) {
	chatID, err := parseChatID(rest)
	if err != nil {
		return "", err
	}
	if err := p.requireUpdateSettings(ctx, caller, chatID); err != nil {
		return "", err
	}
	settings, err := p.store.ChatSettings(ctx, chatID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return "", err
	}
	return telegram.CodeBlockHTML(string(data)), nil
}

func (p *Processor) cmdSetSettings(ctx context.Context, caller domain.UserID, rest string) (string, error) {
	chatArg, blob, _ := strings.Cut(rest, " ")
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return "", err
	}
	if err := p.requireUpdateSettings(ctx, caller, chatID); err != nil {
		return "", err
	}
	settings, err := domain.ParseChatSettings([]byte(strings.TrimSpace(blob)))
	if err != nil {
		return "", err
	}
	if err := p.store.SaveChatSettings(ctx, chatID, settings); err != nil {
		return "", err
	}
	return "Settings updated.", nil
}

func (p *Processor) cmdSetMessage(ctx context.Context, caller domain.UserID, rest string) (string, error) {
	chatArg, rest2, _ := strings.Cut(rest, " ")
	typeArg, template, _ := strings.Cut(strings.TrimSpace(rest2), " ")
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return "", err
	}
	replyType, err := domain.ParseBotReplyType(typeArg)
	if err != nil {
		return "", err
	}
	template = strings.TrimSpace(template)
	if template == "" {
		return "", fmt.Errorf("usage: set_message <chat_id> <reply_type> <template>")
	}
	if err := p.requireUpdateSettings(ctx, caller, chatID); err != nil {
		return "", err
	}
	settings, err := p.store.ChatSettings(ctx, chatID)
	if err != nil {
		return "", err
	}
	settings.BotReplies.Get(replyType).TemplateHTML = template
	if err := p.store.SaveChatSettings(ctx, chatID, settings); err != nil {
		return "", err
	}
	return fmt.Sprintf("Template %s updated.", replyType), nil
}

func (p *Processor) cmdToggleChat(ctx context.Context, caller domain.UserID, rest string, enable bool) (string, error) {
	chatID, err := parseChatID(rest)
	if err != nil {
		return "", err
	}
	if err := p.requireUpdateSettings(ctx, caller, chatID); err != nil {
		return "", err
	}
	settings, err := p.store.ChatSettings(ctx, chatID)
	if err != nil {
		return "", err
	}
	settings.IchbinEnabled = enable
	if err := p.store.SaveChatSettings(ctx, chatID, settings); err != nil {
		return "", err
	}
	if enable {
		return "Moderation enabled.", nil
	}
	return "Moderation disabled.", nil
}

func (p *Processor) cmdSetCaps(ctx context.Context, caller domain.UserID, rest string) (string, error) {
	chatArg, rest2, _ := strings.Cut(rest, " ")
	userArg, blob, _ := strings.Cut(strings.TrimSpace(rest2), " ")
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return "", err
	}
	targetUser, err := parseUserID(userArg)
	if err != nil {
		return "", err
	}
	err = p.requireCapability(ctx, caller, chatID, "can_update_capabilities",
		func(c domain.UserChatCapabilities) bool { return c.CanUpdateCapabilities })
	if err != nil {
		return "", err
	}

	var caps domain.UserChatCapabilities
	if err := json.Unmarshal([]byte(strings.TrimSpace(blob)), &caps); err != nil {
		return "", fmt.Errorf("parse capabilities: %w", err)
	}
	// Self-granting the capability-editing right is rejected even for users
	// who currently hold it (and for the root admin).
	if targetUser == caller && caps.CanUpdateCapabilities {
		return "", fmt.Errorf("granting can_update_capabilities to yourself is not allowed")
	}
	id := domain.UserChatID{UserID: targetUser, ChatID: chatID}
	if err := p.store.SaveCapabilities(ctx, id, caps); err != nil {
		return "", err
	}
	return "Capabilities updated.", nil
}

func (p *Processor) cmdGetCaps(ctx context.Context, caller domain.UserID, rest string) (string, error) {
	chatArg, userArg, _ := strings.Cut(rest, " ")
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return "", err
	}
	targetUser, err := parseUserID(strings.TrimSpace(userArg))
	if err != nil {
		return "", err
	}
	err = p.requireCapability(ctx, caller, chatID, "can_update_capabilities",
		func(c domain.UserChatCapabilities) bool { return c.CanUpdateCapabilities })
	if err != nil {
		return "", err
	}
	caps, err := p.store.Capabilities(ctx, domain.UserChatID{UserID: targetUser, ChatID: chatID})
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return "", err
	}
	return telegram.CodeBlockHTML(string(data)), nil
}

func (p *Processor) requireUpdateSettings(ctx context.Context, caller domain.UserID, chatID domain.ChatID) error {
	return p.requireCapability(ctx, caller, chatID, "can_update_settings",
		func(c domain.UserChatCapabilities) bool { return c.CanUpdateSettings })
}

// adminErrorReply builds the user-facing failure message. Error detail is
// need-to-know: inline only in a private chat for callers allowed to view
// tracebacks, via private message for allowed callers in group chats, and
// withheld otherwise.
func (p *Processor) adminErrorReply(ctx context.Context, ev domain.NewTextMessage, cmdErr error) string {
	base := "Command failed."
	if errors.Is(cmdErr, ErrMissingCapabilities) {
		base = "Insufficient capabilities."
	}
	detail := telegram.CodeBlockHTML(cmdErr.Error())
	canView := p.canViewTracebacks(ctx, ev.UserChatID.UserID)

	switch {
	case canView && ev.ChatInfo.IsPrivate():
		return base + "\n" + detail
	case canView:
		pm := domain.ChatID(ev.UserChatID.UserID)
		pmText := fmt.Sprintf("Command failed in chat %d:\n%s", ev.UserChatID.ChatID, detail)
		if _, err := p.client.SendHTMLMessage(ctx, pm, pmText, 0); err != nil {
			p.log.Error().Err(err).Int64("user_id", int64(ev.UserChatID.UserID)).Msg("traceback PM failed")
			return base + " Details could not be delivered; check the server logs."
		}
		return base + " Details sent via private message."
	default:
		return base + " Ask the administrator to check the server logs."
	}
}

// canViewTracebacks consults the caller's capability in their own private
// chat with the bot; group-chat capabilities never unlock error detail.
func (p *Processor) canViewTracebacks(ctx context.Context, user domain.UserID) bool {
	if p.isRoot(user) {
		return true
	}
	caps, err := p.store.Capabilities(ctx, domain.UserChatID{UserID: user, ChatID: domain.ChatID(user)})
	if err != nil {
		p.log.Error().Err(err).Int64("user_id", int64(user)).Msg("capability lookup failed")
		return false
	}
	return caps.CanViewTracebacks
}

func parseChatID(s string) (domain.ChatID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return domain.ChatID(v), nil
}

func parseUserID(s string) (domain.UserID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return domain.UserID(v), nil
}
