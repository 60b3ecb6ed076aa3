// README: Sequential driver solicitation: one offer at a time, bounded by attempts and a response timer.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/modules/notify"
	"movedispatch/internal/observability"
	"movedispatch/internal/types"
)

const (
	reasonRejected = "rejected"
	reasonTimeout  = "timeout"
	reasonNoMatch  = "no drivers available"
)

// solicit runs attempt number attempt for m, which must be PENDING. excluded
// holds every driver already asked.
func (e *Engine) solicit(ctx context.Context, m *move.Move, excluded []types.ID, attempt int) {
	log := e.log.With().Str("move_id", string(m.ID)).Int("attempt", attempt).Logger()

	started := e.now()
	candidates, err := e.matcher.FindNearbyDrivers(ctx, m.Pickup.Point, m.VehicleClass, e.cfg.SearchRadiusMeters, excluded)
	if err != nil {
		log.Warn().Err(err).Msg("candidate search failed")
		if attempt >= e.cfg.MaxAttempts {
			e.markNoDrivers(ctx, m, "candidate search failed")
			return
		}
		// The failed search consumes this attempt; retry with the same exclusions.
		e.book.open(m.ID, "", excluded, attempt, e.cfg.RetryDelay, func(_ types.ID, token uint64) {
			e.onRetry(m.ID, token)
		})
		e.metrics.ActiveRounds(e.book.len())
		e.saveRound(ctx, m.ID, matching.Round{Attempt: attempt})
		return
	}
	if len(candidates) == 0 {
		log.Info().Int("excluded", len(excluded)).Msg("no candidates left")
		e.markNoDrivers(ctx, m, reasonNoMatch)
		return
	}

	target := candidates[0].DriverID
	next := append(append([]types.ID(nil), excluded...), target)
	r := e.book.open(m.ID, target, next, attempt, e.cfg.OfferTimeout, func(driverID types.ID, token uint64) {
		e.onTimeout(m.ID, driverID, token)
	})
	e.metrics.ActiveRounds(e.book.len())

	if err := e.matcher.RecordOffer(ctx, m.ID, target); err != nil {
		log.Warn().Err(err).Msg("record offer")
	}
	e.saveRound(ctx, m.ID, matching.Round{Attempt: attempt, DriverID: target, ExpiresAt: e.now().Add(e.cfg.OfferTimeout)})
	if err := e.matcher.RefreshLease(ctx, m.ID, e.leaseTTL()); err != nil {
		log.Warn().Err(err).Msg("refresh lease")
	}

	// The move may have been cancelled while the round was being opened.
	latest, err := e.moves.Get(ctx, m.ID)
	if err != nil || latest.Status != move.StatusPending {
		e.book.take(m.ID, target, r.token)
		e.metrics.ActiveRounds(e.book.len())
		return
	}

	e.notify(ctx, target, notify.EventOffer, OfferPayload{
		MoveID:       m.ID,
		Pickup:       m.Pickup,
		Delivery:     m.Delivery,
		VehicleClass: m.VehicleClass,
		Items:        m.Items,
		Price:        m.Pricing.Total,
		Route:        m.Pricing.Route,
		Attempt:      attempt,
		DistanceM:    candidates[0].DistanceMeters,
		ExpiresAt:    r.deadline.UTC(),
	})
	e.metrics.Offer(observability.OfferSent)
	log.Info().Str("driver_id", string(target)).Dur("search", e.now().Sub(started)).Msg("offer sent")
}

// Reject records an explicit decline by driverID. A reject that does not
// match the live round is a no-op.
func (e *Engine) Reject(ctx context.Context, moveID, driverID types.ID, reason string) error {
	if driverID == "" {
		return fmt.Errorf("%w: driver id is required", move.ErrValidation)
	}
	if _, err := e.moves.Get(ctx, moveID); err != nil {
		return err
	}
	if reason == "" {
		reason = reasonRejected
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OpTimeout)
	defer cancel()
	e.decline(ctx, moveID, driverID, 0, reason, observability.OfferRejected)
	return nil
}

func (e *Engine) onTimeout(moveID, driverID types.ID, token uint64) {
	ctx, cancel := e.opContext()
	defer cancel()
	if e.decline(ctx, moveID, driverID, token, reasonTimeout, observability.OfferTimeout) {
		e.notify(ctx, driverID, notify.EventOfferWithdrawn, WithdrawnPayload{MoveID: moveID, Reason: "offer expired"})
	}
}

func (e *Engine) onRetry(moveID types.ID, token uint64) {
	ctx, cancel := e.opContext()
	defer cancel()
	r, ok := e.book.take(moveID, "", token)
	if !ok {
		return
	}
	e.metrics.ActiveRounds(e.book.len())
	m, err := e.moves.Get(ctx, moveID)
	if err != nil || m.Status != move.StatusPending {
		return
	}
	e.solicit(ctx, m, r.excluded, r.attempt+1)
}

// decline ends the live round for driverID and moves on to the next attempt
// or gives up. It reports whether the round was live and the move still
// pending.
func (e *Engine) decline(ctx context.Context, moveID, driverID types.ID, token uint64, reason, outcome string) bool {
	r, ok := e.book.take(moveID, driverID, token)
	if !ok {
		e.log.Debug().Str("move_id", string(moveID)).Str("driver_id", string(driverID)).Str("reason", reason).Msg("stale decline ignored")
		return false
	}
	e.metrics.Offer(outcome)
	e.metrics.ActiveRounds(e.book.len())
	e.saveRound(ctx, moveID, matching.Round{Attempt: r.attempt})
	e.log.Info().Str("move_id", string(moveID)).Str("driver_id", string(driverID)).Int("attempt", r.attempt).Str("reason", reason).Msg("offer declined")

	m, err := e.moves.Get(ctx, moveID)
	if err != nil {
		e.log.Error().Err(err).Str("move_id", string(moveID)).Msg("load move after decline")
		return true
	}
	if m.Status != move.StatusPending {
		return false
	}
	if r.attempt >= e.cfg.MaxAttempts {
		e.markNoDrivers(ctx, m, "attempts exhausted")
		return true
	}
	e.solicit(ctx, m, r.excluded, r.attempt+1)
	return true
}

// saveRound mirrors the live round so another process, or this one after a
// restart, knows who may accept and how many attempts are spent.
func (e *Engine) saveRound(ctx context.Context, moveID types.ID, r matching.Round) {
	if err := e.matcher.SaveRound(ctx, moveID, r); err != nil {
		e.log.Warn().Err(err).Str("move_id", string(moveID)).Int("attempt", r.Attempt).Msg("save round")
	}
}

func (e *Engine) markNoDrivers(ctx context.Context, m *move.Move, reason string) {
	updated, err := e.moves.Apply(ctx, move.Change{
		MoveID:  m.ID,
		From:    move.StatusPending,
		Version: m.Version,
		To:      move.StatusNoDriversAvailable,
		Role:    move.RoleSystem,
		Reason:  reason,
		At:      e.now().UTC(),
	})
	if err != nil {
		if !errors.Is(err, move.ErrConflict) {
			e.log.Error().Err(err).Str("move_id", string(m.ID)).Msg("mark no drivers")
		}
		return
	}
	e.metrics.Transition(string(updated.Status))
	if err := e.matcher.Forget(ctx, m.ID); err != nil {
		e.log.Warn().Err(err).Str("move_id", string(m.ID)).Msg("forget solicitation")
	}
	e.log.Info().Str("move_id", string(m.ID)).Str("reason", reason).Msg("no drivers available")
	e.notify(ctx, m.CustomerID, notify.EventNoDrivers, StatusPayload{
		MoveID:  m.ID,
		Status:  updated.Status,
		Message: statusMessage(updated.Status),
	})
}
