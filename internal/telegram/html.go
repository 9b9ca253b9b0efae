package telegram

import (
	"fmt"
	"html"
	"strings"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// EscapeHTML escapes user-controlled text for safe inclusion in an
// HTML-mode message.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// UserMentionHTML builds a clickable mention that works even for users
// without a username. Falls back to a generic label when no name is known.
func UserMentionHTML(userID domain.UserID, firstName, lastName string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		name = fmt.Sprintf("{user_id:%d}", userID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, EscapeHTML(name))
}

// CodeBlockHTML wraps text (a traceback, a settings dump) in a pre block.
func CodeBlockHTML(s string) string {
	return "<pre>" + EscapeHTML(s) + "</pre>"
}
