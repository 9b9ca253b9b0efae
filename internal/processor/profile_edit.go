package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ogavrilov/welcomebot/internal/domain"
)

// withProfile runs a scoped profile edit: load (or default), let fn mutate,
// and persist only when the serialized content actually changed. The save
// recomputes the kick deadline from params in the same transaction. Returns
// whether a write happened.
//
// fn may perform outbound calls; the profile is not locked while it runs.
// Single-consumer processing is what makes that safe.
func (p *Processor) withProfile(ctx context.Context, id domain.UserChatID, params domain.UserProfileParams, fn func(*domain.UserProfile) error) (bool, error) {
	prof, err := p.store.Profile(ctx, id)
	if err != nil {
		return false, err
	}
	before, err := json.Marshal(prof)
	if err != nil {
		return false, fmt.Errorf("snapshot profile %+v: %w", id, err)
	}
	if err := fn(prof); err != nil {
		return false, err
	}
	after, err := json.Marshal(prof)
	if err != nil {
		return false, fmt.Errorf("serialize profile %+v: %w", id, err)
	}
	if bytes.Equal(before, after) {
		return false, nil
	}

	kickAt := prof.KickAtTimestamp(params)
	ev := p.log.Info().
		Int64("user_id", int64(id.UserID)).
		Int64("chat_id", int64(id.ChatID)).
		RawJSON("before", before).
		RawJSON("after", after)
	if kickAt != nil {
		ev = ev.Time("kick_at", kickAt.Time())
	}
	ev.Msg("profile changed")

	if err := p.store.SaveProfile(ctx, prof, params); err != nil {
		return false, err
	}
	return true, nil
}
