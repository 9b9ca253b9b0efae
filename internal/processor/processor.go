package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/metrics"
	"github.com/ogavrilov/welcomebot/internal/queue"
	"github.com/ogavrilov/welcomebot/internal/telegram"
)

// Config carries the processor's runtime knobs.
type Config struct {
	// CommandPrefix marks admin commands, e.g. "/lancet_".
	CommandPrefix string
	// RootAdminUserID bypasses the capability table entirely. Zero disables
	// the bypass.
	RootAdminUserID domain.UserID
	// BotUserID is the bot's own account; its messages and membership
	// changes about itself are treated specially.
	BotUserID domain.UserID
	// PeriodicInterval is how often a Periodic event is synthesized.
	// Default 3s.
	PeriodicInterval time.Duration
	// PollTimeout bounds one blocking dequeue. Default 1s.
	PollTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "/lancet_"
	}
	if c.PeriodicInterval <= 0 {
		c.PeriodicInterval = 3 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	return c
}

// Processor drains the queue and applies moderation. Exactly one Run loop
// may be active; all handler state lives in the store, so a restart resumes
// where the previous process stopped.
type Processor struct {
	cfg    Config
	store  Store
	queue  *queue.Queue
	client telegram.Client
	log    zerolog.Logger

	stopped      bool
	lastPeriodic atomic.Int64
}

// New builds a Processor. queue may be nil in tests that drive HandleEvent
// directly.
func New(cfg Config, store Store, q *queue.Queue, client telegram.Client, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:    cfg.withDefaults(),
		store:  store,
		queue:  q,
		client: client,
		log:    log.With().Str("component", "processor").Logger(),
	}
}

// Run is the consumer loop: synthesize a Periodic event when its interval
// elapsed, otherwise block on the queue up to the poll timeout. Exits on a
// Stop event or context cancellation; everything else is logged and the
// loop keeps going.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info().
		Str("command_prefix", p.cfg.CommandPrefix).
		Dur("periodic_interval", p.cfg.PeriodicInterval).
		Msg("processor started")

	for !p.stopped {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Since(p.LastPeriodic()) >= p.cfg.PeriodicInterval {
			p.lastPeriodic.Store(time.Now().UnixNano())
			if err := p.HandleEvent(ctx, domain.Periodic{RecvTimestamp: domain.Now()}); err != nil {
				p.log.Error().Err(err).Msg("periodic handling failed")
			}
			continue
		}
		_, err := p.queue.ProcessOne(ctx, p.cfg.PollTimeout, func(ev domain.Event) error {
			return p.HandleEvent(ctx, ev)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.log.Error().Err(err).Msg("queue processing failed")
		}
	}
	p.log.Info().Msg("processor stopped")
	return nil
}

// LastPeriodic reports when the loop last ran its periodic work. The health
// endpoint treats a stale value as a stuck consumer. Safe for concurrent use.
func (p *Processor) LastPeriodic() time.Time {
	return time.Unix(0, p.lastPeriodic.Load())
}

// HandleEvent dispatches one event. The union is closed; an unknown type
// here means the dispatch table lagged behind the domain package.
func (p *Processor) HandleEvent(ctx context.Context, ev domain.Event) error {
	tr := otel.Tracer("processor/Processor")
	ctx, span := tr.Start(ctx, "HandleEvent",
		trace.WithAttributes(attribute.String("event.type", ev.EventType())),
	)
	defer span.End()

	var err error
	switch e := ev.(type) {
	case domain.NewTextMessage:
		err = p.onTextMessage(ctx, e)
	case domain.ChatMemberJoined:
		err = p.onMemberJoined(ctx, e)
	case domain.ChatMemberLeft:
		err = p.onMemberLeft(ctx, e)
	case domain.MessageReactionChanged:
		// Audited at ingestion; moderation takes no action.
	case domain.Periodic:
		err = p.onPeriodic(ctx, e)
	case domain.Stop:
		p.log.Info().Msg("stop event received")
		p.stopped = true
	default:
		p.log.Error().Str("event_type", ev.EventType()).Msg("BUG: unknown event type in dispatch")
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.EventsProcessed.WithLabelValues(ev.EventType(), outcome).Inc()
	return err
}

func (p *Processor) onTextMessage(ctx context.Context, ev domain.NewTextMessage) error {
	if ev.UserChatID.UserID == p.cfg.BotUserID {
		return nil
	}
	if err := p.store.RegisterChat(ctx, ev.UserChatID.ChatID, ev.ChatInfo); err != nil {
		return err
	}
	if strings.HasPrefix(ev.Text, p.cfg.CommandPrefix) {
		return p.handleAdminCommand(ctx, ev)
	}

	settings, err := p.store.ChatSettings(ctx, ev.UserChatID.ChatID)
	if err != nil {
		return err
	}

	var satisfied bool
	_, err = p.withProfile(ctx, ev.UserChatID, settings.ProfileParams(), func(prof *domain.UserProfile) error {
		prof.BasicUserInfo = &ev.BasicUserInfo
		if !strings.Contains(ev.Text, settings.IntroductionTag) {
			return nil
		}
		if !prof.IsWaitingForIchbinMessage() {
			return nil
		}
		ts := ev.RecvTimestamp
		prof.IchbinMessageTimestamp = &ts
		satisfied = true
		return nil
	})
	if err != nil {
		return err
	}
	if !satisfied {
		return nil
	}
	p.log.Info().
		Int64("user_id", int64(ev.UserChatID.UserID)).
		Int64("chat_id", int64(ev.UserChatID.ChatID)).
		Bool("edited", ev.IsEdited).
		Msg("introduction accepted")
	_, err = p.sendReply(ctx, settings, ev.UserChatID, ev.BasicUserInfo, domain.ReplyWelcome, ev.MessageID)
	return err
}

func (p *Processor) onMemberJoined(ctx context.Context, ev domain.ChatMemberJoined) error {
	if err := p.store.RegisterChat(ctx, ev.UserChatID.ChatID, ev.ChatInfo); err != nil {
		return err
	}
	if ev.UserChatID.UserID == p.cfg.BotUserID {
		return nil
	}

	settings, err := p.store.ChatSettings(ctx, ev.UserChatID.ChatID)
	if err != nil {
		return err
	}
	params := settings.ProfileParams()

	_, err = p.withProfile(ctx, ev.UserChatID, params, func(prof *domain.UserProfile) error {
		prof.BasicUserInfo = &ev.BasicUserInfo
		prof.OnJoined(ev.RecvTimestamp)
		return nil
	})
	if err != nil {
		return err
	}
	if ev.BasicUserInfo.IsBot || !settings.IchbinEnabled {
		return nil
	}

	prof, err := p.store.Profile(ctx, ev.UserChatID)
	if err != nil {
		return err
	}
	switch {
	case prof.IchbinMessageTimestamp != nil:
		_, err = p.sendReply(ctx, settings, ev.UserChatID, ev.BasicUserInfo, domain.ReplyWelcomeAgain, 0)
		return err

	case prof.IchbinRequestTimestamp == nil:
		// First sight: request an introduction and anchor the deadline to
		// the moment the request was actually delivered.
		sent, err := p.sendReply(ctx, settings, ev.UserChatID, ev.BasicUserInfo, domain.ReplyIchbinRequest, 0)
		if err != nil {
			return err
		}
		_, err = p.withProfile(ctx, ev.UserChatID, params, func(prof *domain.UserProfile) error {
			ts := sent.SentTimestamp
			prof.IchbinRequestTimestamp = &ts
			return nil
		})
		return err

	default:
		// Rejoin while a request is outstanding (or excused).
		deadline := prof.KickAtTimestamp(params)
		if deadline == nil {
			return nil
		}
		remaining := float64(*deadline - ev.RecvTimestamp)
		grace := float64(settings.ExtraIchbinWaitingTimeAfterRejoining)
		if remaining > grace {
			return nil
		}
		_, err = p.withProfile(ctx, ev.UserChatID, params, func(prof *domain.UserProfile) error {
			prof.AddExtraGraceTime(grace - remaining)
			return nil
		})
		if err != nil {
			return err
		}
		_, err = p.sendReply(ctx, settings, ev.UserChatID, ev.BasicUserInfo, domain.ReplyNotMuchTimeLeft, 0)
		return err
	}
}

func (p *Processor) onMemberLeft(ctx context.Context, ev domain.ChatMemberLeft) error {
	if ev.UserChatID.UserID == p.cfg.BotUserID {
		p.log.Info().Int64("chat_id", int64(ev.UserChatID.ChatID)).Msg("bot removed from chat, deregistering")
		return p.store.RemoveChat(ctx, ev.UserChatID.ChatID)
	}
	settings, err := p.store.ChatSettings(ctx, ev.UserChatID.ChatID)
	if err != nil {
		return err
	}
	_, err = p.withProfile(ctx, ev.UserChatID, settings.ProfileParams(), func(prof *domain.UserProfile) error {
		prof.OnLeft(ev.RecvTimestamp)
		return nil
	})
	return err
}

func (p *Processor) onPeriodic(ctx context.Context, ev domain.Periodic) error {
	now := ev.RecvTimestamp

	if p.queue != nil {
		if depth, err := p.queue.Depth(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	}

	due, err := p.store.UsersToKick(ctx, now)
	if err != nil {
		return fmt.Errorf("due-kick scan: %w", err)
	}
	for _, id := range due {
		// One failing user must not shield the rest.
		if err := p.verifyAndKickUser(ctx, id, now); err != nil {
			p.log.Error().Err(err).
				Int64("user_id", int64(id.UserID)).
				Int64("chat_id", int64(id.ChatID)).
				Msg("kick attempt failed")
		}
	}

	p.retentionSweep(ctx, now)
	return nil
}
