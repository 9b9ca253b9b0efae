// Package mtproto is the boundary for the user-account (MTProto) side
// channel. The Bot API does not deliver some update kinds, message
// reactions in particular, so a second ingestion path feeds them in as
// regular domain events. The concrete session implementation is injected;
// this package only defines the contract and the relay into the queue.
package mtproto

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/eventlog"
	"github.com/ogavrilov/welcomebot/internal/queue"
)

// Source yields domain events observed through an MTProto session.
type Source interface {
	// Events returns the stream the relay drains. The source closes it when
	// the session ends.
	Events() <-chan domain.Event
}

// OpenFunc starts a session from its stored state and returns the event
// source backed by it.
type OpenFunc func(ctx context.Context, sessionPath string, log zerolog.Logger) (Source, error)

var opener OpenFunc

// Register installs the session implementation, database/sql driver style:
// the implementing package calls it from init and main links it in with a
// blank import. Last registration wins.
func Register(open OpenFunc) { opener = open }

// Open starts the registered session implementation. Fails when the binary
// was built without one.
func Open(ctx context.Context, sessionPath string, log zerolog.Logger) (Source, error) {
	if opener == nil {
		return nil, errors.New("mtproto: no session implementation registered")
	}
	return opener(ctx, sessionPath, log)
}

// Relay moves events from a Source into the durable queue, auditing each
// one on the way.
type Relay struct {
	source Source
	queue  *queue.Queue
	audit  *eventlog.Log
	log    zerolog.Logger
}

// NewRelay builds a relay for one source.
func NewRelay(source Source, q *queue.Queue, audit *eventlog.Log, log zerolog.Logger) *Relay {
	return &Relay{
		source: source,
		queue:  q,
		audit:  audit,
		log:    log.With().Str("component", "mtproto").Logger(),
	}
}

// Run drains the source until its channel closes or the context ends.
func (r *Relay) Run(ctx context.Context) error {
	events := r.source.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.audit.LogRaw(ctx, eventlog.SourceMTProto, ev.EventType(), ev)
			if err := r.queue.Put(ctx, ev); err != nil {
				r.log.Error().Err(err).Str("event_type", ev.EventType()).Msg("enqueue failed")
			}
		}
	}
}
