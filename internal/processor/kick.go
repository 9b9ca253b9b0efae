package processor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/metrics"
)

// verifyAndKickUser re-checks a due kick against fresh state before acting.
// The deadline scan runs off an indexed column that can lag behind reality
// (settings changed, user introduced themself moments ago), so the profile
// is re-read and the deadline recomputed inside the scoped edit.
func (p *Processor) verifyAndKickUser(ctx context.Context, id domain.UserChatID, now domain.Timestamp) error {
	tr := otel.Tracer("processor/Processor")
	ctx, span := tr.Start(ctx, "verifyAndKickUser",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(id.UserID)),
			attribute.Int64("chat.id", int64(id.ChatID)),
		),
	)
	defer span.End()

	settings, err := p.store.ChatSettings(ctx, id.ChatID)
	if err != nil {
		return err
	}
	params := settings.ProfileParams()

	if !settings.IchbinEnabled {
		// Disabling moderation retroactively excuses anyone mid-grace-period.
		_, err := p.withProfile(ctx, id, params, func(prof *domain.UserProfile) error {
			if prof.IsWaitingForIchbinMessage() {
				ts := now
				prof.ForgivenTimestamp = &ts
				p.log.Info().
					Int64("user_id", int64(id.UserID)).
					Int64("chat_id", int64(id.ChatID)).
					Msg("moderation disabled, user forgiven")
			}
			return nil
		})
		return err
	}

	var kicked bool
	var info domain.BasicUserInfo
	_, err = p.withProfile(ctx, id, params, func(prof *domain.UserProfile) error {
		if prof.BasicUserInfo != nil {
			info = *prof.BasicUserInfo
		}
		deadline := prof.KickAtTimestamp(params)
		if deadline == nil {
			// Stale scan result, the state moved on. Not an error.
			p.log.Debug().
				Int64("user_id", int64(id.UserID)).
				Int64("chat_id", int64(id.ChatID)).
				Msg("kick deadline gone, skipping")
			return nil
		}
		if *deadline > now {
			return nil
		}

		if settings.DarkLaunchSinkChatID != nil {
			prof.OnKicked(now, true)
			kicked = true
			metrics.Kicks.WithLabelValues("dark_launch").Inc()
			p.log.Info().
				Int64("user_id", int64(id.UserID)).
				Int64("chat_id", int64(id.ChatID)).
				Msg("simulated kick (dark launch)")
			return nil
		}

		until := now.Add(settings.BanDuration.Duration())
		if err := p.client.BanChatMember(ctx, id.ChatID, id.UserID, until); err != nil {
			// Backoff lives in the profile: the failed-kick timestamp pushes
			// the deadline out by the retry interval.
			prof.OnFailedToKick(now)
			metrics.Kicks.WithLabelValues("failed").Inc()
			p.log.Error().Err(err).
				Int64("user_id", int64(id.UserID)).
				Int64("chat_id", int64(id.ChatID)).
				Msg("ban call failed, will retry")
			return nil
		}
		prof.OnKicked(now, false)
		kicked = true
		metrics.Kicks.WithLabelValues("kicked").Inc()
		return nil
	})
	if err != nil {
		return err
	}

	if kicked {
		// Best effort: the kick already happened either way.
		if _, err := p.sendReply(ctx, settings, id, info, domain.ReplyUserIsKicked, 0); err != nil {
			p.log.Error().Err(err).
				Int64("user_id", int64(id.UserID)).
				Int64("chat_id", int64(id.ChatID)).
				Msg("kicked notice failed")
		}
	}
	return nil
}
