package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
)

// Outbox re-dispatches notification records whose inline handoff failed.
// Records are written in the same transaction as the state change they
// describe, so the worker delivers each at least once; MarkDispatched stops
// further retries.
type Outbox struct {
	repo  booking.Repository
	disp  booking.Dispatcher
	batch int
	log   zerolog.Logger
}

func NewOutbox(repo booking.Repository, disp booking.Dispatcher, batch int, log zerolog.Logger) *Outbox {
	if batch <= 0 {
		batch = 100
	}
	return &Outbox{
		repo:  repo,
		disp:  disp,
		batch: batch,
		log:   log.With().Str("component", "outbox").Logger(),
	}
}

// RunOnce drains one batch of undispatched notifications. Failures on
// individual records are logged and left for the next run.
func (o *Outbox) RunOnce(ctx context.Context) (int, error) {
	pending, err := o.repo.FindUndispatched(ctx, o.batch)
	if err != nil {
		return 0, fmt.Errorf("find undispatched notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		if err := o.disp.Send(ctx, n); err != nil {
			o.log.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Str("type", string(n.Type)).
				Msg("dispatch failed, will retry")
			continue
		}
		if err := o.repo.MarkDispatched(ctx, n.ID); err != nil {
			o.log.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Msg("mark dispatched")
			continue
		}
		sent++
	}

	return sent, nil
}
