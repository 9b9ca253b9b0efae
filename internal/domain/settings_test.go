package domain

import (
	"testing"
	"time"
)

func TestParseChatSettings_OverlaysDefaults(t *testing.T) {
	s, err := ParseChatSettings([]byte(`{"ichbin_enabled": true, "ichbin_waiting_time": 60}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !s.IchbinEnabled {
		t.Fatalf("ichbin_enabled should be true")
	}
	if s.IchbinWaitingTime != 60 {
		t.Fatalf("ichbin_waiting_time = %v, want 60", s.IchbinWaitingTime)
	}
	// Unspecified fields keep their defaults.
	if s.IntroductionTag != DefaultIntroductionTag {
		t.Fatalf("introduction_tag = %q, want default", s.IntroductionTag)
	}
	if s.BanDuration != DurationSeconds(time.Minute) {
		t.Fatalf("ban_duration = %v, want default", s.BanDuration)
	}
}

func TestParseChatSettings_Invalid(t *testing.T) {
	if _, err := ParseChatSettings([]byte(`{`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
	if _, err := ParseChatSettings([]byte(`{"introduction_tag": ""}`)); err == nil {
		t.Fatalf("expected error for empty introduction tag")
	}
}

func TestParseBotReplyType(t *testing.T) {
	for _, valid := range []string{"ICHBIN_REQUEST", "WELCOME", "WELCOME_AGAIN", "NOT_MUCH_TIME_LEFT_TO_WRITE_ICHBIN", "USER_IS_KICKED"} {
		if _, err := ParseBotReplyType(valid); err != nil {
			t.Fatalf("%s should parse: %v", valid, err)
		}
	}
	if _, err := ParseBotReplyType("GOODBYE"); err == nil {
		t.Fatalf("expected error for unknown reply type")
	}
}

func TestBotReplies_Get(t *testing.T) {
	r := DefaultBotReplies()
	for _, typ := range []BotReplyType{ReplyIchbinRequest, ReplyWelcome, ReplyWelcomeAgain, ReplyNotMuchTimeLeft, ReplyUserIsKicked} {
		reply := r.Get(typ)
		if reply.TemplateHTML == "" {
			t.Fatalf("%s: empty default template", typ)
		}
		if reply.TTL <= 0 {
			t.Fatalf("%s: non-positive default TTL", typ)
		}
	}
}
