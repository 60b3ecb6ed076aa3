// README: Accept, progress, cancellation, payment confirmation and views.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/modules/notify"
	"movedispatch/internal/observability"
	"movedispatch/internal/types"
)

// Accept assigns driverID to the move. The move, the driver's availability
// and the audit event change in one atomic step; on failure nothing changes
// and the driver is told why.
func (e *Engine) Accept(ctx context.Context, moveID, driverID types.ID) (*move.Move, error) {
	m, err := e.moves.Get(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if m.Status != move.StatusPending {
		err := fmt.Errorf("%w: move is %s", move.ErrConflict, m.Status)
		e.acceptFailed(ctx, m, driverID, err)
		return nil, err
	}
	if m.DriverID != nil {
		e.acceptFailed(ctx, m, driverID, move.ErrDriverAssigned)
		return nil, move.ErrDriverAssigned
	}

	live, hasRound := e.book.current(moveID)
	if hasRound && live.driverID != driverID {
		e.acceptFailed(ctx, m, driverID, move.ErrNotOffered)
		return nil, move.ErrNotOffered
	}
	if !hasRound && !e.wasOffered(ctx, moveID, driverID) {
		e.acceptFailed(ctx, m, driverID, move.ErrNotOffered)
		return nil, move.ErrNotOffered
	}

	at := e.now().UTC()
	updated, err := e.moves.Apply(ctx, move.Change{
		MoveID:       moveID,
		From:         move.StatusPending,
		Version:      m.Version,
		To:           move.StatusAccepted,
		Role:         move.RoleDriver,
		ActorID:      &driverID,
		AssignDriver: &driverID,
		VehicleClass: m.VehicleClass,
		At:           at,
	})
	if err != nil {
		e.acceptFailed(ctx, m, driverID, err)
		if hasRound && driverIneligible(err) {
			// An ineligible target cannot take the move; ask the next driver.
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OpTimeout)
			e.decline(dctx, moveID, driverID, live.token, "accept failed: "+err.Error(), observability.OfferFailed)
			cancel()
		}
		return nil, err
	}

	if r, ok := e.book.drop(moveID); ok && r.driverID != "" && r.driverID != driverID {
		e.notify(ctx, r.driverID, notify.EventOfferWithdrawn, WithdrawnPayload{MoveID: moveID, Reason: "accepted by another driver"})
	}
	e.metrics.ActiveRounds(e.book.len())
	e.metrics.Offer(observability.OfferAccepted)
	e.metrics.Transition(string(updated.Status))
	e.metrics.Matched(at.Sub(m.CreatedAt))
	if err := e.matcher.Forget(ctx, moveID); err != nil {
		e.log.Warn().Err(err).Str("move_id", string(moveID)).Msg("forget solicitation")
	}
	if err := e.matcher.Withdraw(ctx, driverID, m.VehicleClass); err != nil {
		e.log.Warn().Err(err).Str("driver_id", string(driverID)).Msg("withdraw driver from index")
	}
	e.log.Info().Str("move_id", string(moveID)).Str("driver_id", string(driverID)).Msg("move accepted")

	payload := AcceptedPayload{MoveID: moveID}
	if d, err := e.drivers.GetDriver(ctx, driverID); err == nil {
		payload.Driver = d.Summary()
		if d.Location != nil {
			payload.ETAMinutes = e.eta(ctx, *d.Location, m.Pickup.Point)
		}
	} else {
		e.log.Warn().Err(err).Str("driver_id", string(driverID)).Msg("load driver summary")
	}
	e.notify(ctx, updated.CustomerID, notify.EventAccepted, payload)
	e.notify(ctx, driverID, notify.EventAcceptConfirm, ConfirmedPayload{
		MoveID:   moveID,
		Pickup:   updated.Pickup,
		Delivery: updated.Delivery,
		Items:    updated.Items,
		Price:    updated.Pricing.Total,
	})
	return updated, nil
}

func (e *Engine) acceptFailed(ctx context.Context, m *move.Move, driverID types.ID, err error) {
	e.log.Info().Err(err).Str("move_id", string(m.ID)).Str("driver_id", string(driverID)).Msg("accept failed")
	e.notify(ctx, driverID, notify.EventAcceptFailed, FailurePayload{MoveID: m.ID, Reason: err.Error()})
}

func driverIneligible(err error) bool {
	return errors.Is(err, move.ErrDriverUnavailable) ||
		errors.Is(err, move.ErrVehicleMismatch) ||
		errors.Is(err, move.ErrDriverNotApproved) ||
		errors.Is(err, move.ErrDriverNotFound)
}

// wasOffered answers for moves without a live round here, e.g. after a
// restart or when another process holds the round. Only the persisted
// target may accept, and only before its offer expires.
func (e *Engine) wasOffered(ctx context.Context, moveID, driverID types.ID) bool {
	r, err := e.matcher.LoadRound(ctx, moveID)
	if err != nil {
		e.log.Warn().Err(err).Str("move_id", string(moveID)).Msg("load solicitation round")
		return false
	}
	return r.Targets(driverID, e.now())
}

func (e *Engine) eta(ctx context.Context, from, to types.Point) *float64 {
	if e.router == nil {
		return nil
	}
	est, err := e.router.Route(ctx, from, to)
	if err != nil {
		e.log.Debug().Err(err).Msg("eta estimate")
		return nil
	}
	mins := math.Round(est.Duration.Minutes()*10) / 10
	return &mins
}

// AdvanceStatus moves an accepted move forward on behalf of its driver.
// Reaching DELIVERED releases the driver at the delivery point and triggers
// payment exactly once.
func (e *Engine) AdvanceStatus(ctx context.Context, moveID, driverID types.ID, to move.Status) (*move.Move, error) {
	m, err := e.moves.Get(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if !m.HasDriver(driverID) {
		return nil, fmt.Errorf("%w: not the assigned driver", move.ErrForbidden)
	}
	if !to.Progress() {
		return nil, fmt.Errorf("%w: %s is not a progress status", move.ErrInvalidTransition, to)
	}
	if !move.CanTransition(m.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", move.ErrInvalidTransition, m.Status, to)
	}

	c := move.Change{
		MoveID:  moveID,
		From:    m.Status,
		Version: m.Version,
		To:      to,
		Role:    move.RoleDriver,
		ActorID: &driverID,
		At:      e.now().UTC(),
	}
	if to == move.StatusDelivered {
		drop := m.Delivery.Point
		c.ReleaseDriver = &driverID
		c.ReleaseAt = &drop
		c.PaymentStatus = move.PaymentCompleted
		if m.Payment.Method == move.PaymentCard {
			c.PaymentStatus = move.PaymentAwaiting
		}
	}
	updated, err := e.moves.Apply(ctx, c)
	if err != nil {
		return nil, err
	}
	e.metrics.Transition(string(to))
	e.log.Info().Str("move_id", string(moveID)).Str("status", string(to)).Msg("move advanced")

	if to != move.StatusDelivered {
		e.notify(ctx, updated.CustomerID, notify.EventStatus, StatusPayload{MoveID: moveID, Status: to, Message: statusMessage(to)})
		return updated, nil
	}

	e.notify(ctx, driverID, notify.EventCompleted, StatusPayload{MoveID: moveID, Status: to, Message: "Move completed"})
	e.notify(ctx, updated.CustomerID, notify.EventStatus, StatusPayload{MoveID: moveID, Status: to, Message: statusMessage(to)})
	e.restoreDriver(ctx, driverID)
	return e.settle(context.WithoutCancel(ctx), updated), nil
}

// settle runs the payment side of a delivery. Only the caller whose
// transition committed gets here, so each move settles once.
func (e *Engine) settle(ctx context.Context, m *move.Move) *move.Move {
	log := e.log.With().Str("move_id", string(m.ID)).Str("method", string(m.Payment.Method)).Logger()
	if m.Payment.Method != move.PaymentCard {
		if err := e.payments.FinalizeCash(ctx, m); err != nil {
			log.Error().Err(err).Msg("finalize cash payment")
		}
		return m
	}

	sess, err := e.payments.CreateCardSession(ctx, m)
	if err != nil {
		log.Error().Err(err).Msg("create card payment session")
		return m
	}
	p := move.Payment{Method: move.PaymentCard, Status: move.PaymentAwaiting, Reference: sess.ID, URL: sess.URL}
	if _, err := e.moves.UpdatePayment(ctx, m.ID, move.PaymentAwaiting, p); err != nil {
		log.Error().Err(err).Msg("store payment reference")
	}
	m.Payment = p
	e.notify(ctx, m.CustomerID, notify.EventPaymentLink, PaymentPayload{
		MoveID: m.ID,
		Method: p.Method,
		Status: p.Status,
		Amount: m.Pricing.Total,
		URL:    sess.URL,
	})
	return m
}

// Cancel moves a non-terminal move to the actor's cancelled state and
// releases any assigned driver in the same atomic step.
func (e *Engine) Cancel(ctx context.Context, moveID, actorID types.ID, role move.Role, reason string) (*move.Move, error) {
	m, err := e.moves.Get(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if !e.canAct(m, actorID, role) {
		return nil, fmt.Errorf("%w: not a party to this move", move.ErrForbidden)
	}
	if m.Status.Terminal() {
		return nil, fmt.Errorf("%w: move is already %s", move.ErrInvalidTransition, m.Status)
	}
	if !move.CanCancel(role, m.Status) {
		return nil, fmt.Errorf("%w: %s cannot cancel a %s move", move.ErrForbidden, role, m.Status)
	}
	to, _ := move.CancelStatusFor(role)
	if !move.CanTransition(m.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", move.ErrInvalidTransition, m.Status, to)
	}

	at := e.now().UTC()
	actor := actorID
	updated, err := e.moves.Apply(ctx, move.Change{
		MoveID:        moveID,
		From:          m.Status,
		Version:       m.Version,
		To:            to,
		Role:          role,
		ActorID:       &actor,
		Reason:        reason,
		At:            at,
		ReleaseDriver: m.DriverID,
		Cancellation:  &move.Cancellation{Reason: reason, Role: role, ActorID: actorID, At: at},
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Transition(string(to))
	e.log.Info().Str("move_id", string(moveID)).Str("role", string(role)).Str("reason", reason).Msg("move cancelled")

	if r, ok := e.book.drop(moveID); ok {
		e.metrics.ActiveRounds(e.book.len())
		if r.driverID != "" {
			e.notify(ctx, r.driverID, notify.EventOfferWithdrawn, WithdrawnPayload{MoveID: moveID, Reason: "move cancelled"})
		}
	}
	if err := e.matcher.Forget(ctx, moveID); err != nil {
		e.log.Warn().Err(err).Str("move_id", string(moveID)).Msg("forget solicitation")
	}

	payload := CancelledPayload{MoveID: moveID, Status: to, Reason: reason, CancelledBy: role}
	if role != move.RoleCustomer {
		e.notify(ctx, updated.CustomerID, notify.EventCancelled, payload)
	}
	if updated.DriverID != nil {
		e.restoreDriver(ctx, *updated.DriverID)
		if role != move.RoleDriver {
			e.notify(ctx, *updated.DriverID, notify.EventCancelled, payload)
		}
	}
	return updated, nil
}

// restoreDriver puts a released driver back into the geo index.
func (e *Engine) restoreDriver(ctx context.Context, driverID types.ID) {
	d, err := e.drivers.GetDriver(ctx, driverID)
	if err != nil {
		e.log.Warn().Err(err).Str("driver_id", string(driverID)).Msg("load released driver")
		return
	}
	if !d.Available || !d.Approved || d.Location == nil {
		return
	}
	if err := e.matcher.Restore(ctx, matching.Candidate{DriverID: d.ID, VehicleClass: d.VehicleClass, Position: *d.Location}); err != nil {
		e.log.Warn().Err(err).Str("driver_id", string(driverID)).Msg("restore driver to index")
	}
}

func (e *Engine) canAct(m *move.Move, actorID types.ID, role move.Role) bool {
	switch role {
	case move.RoleCustomer:
		return actorID != "" && m.CustomerID == actorID
	case move.RoleDriver:
		return actorID != "" && m.HasDriver(actorID)
	case move.RoleAdmin:
		return true
	}
	return false
}

// MoveView is a move as seen by one requester.
type MoveView struct {
	Move         *move.Move        `json:"move"`
	Solicitation *SolicitationView `json:"solicitation,omitempty"`
}

type SolicitationView struct {
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	AwaitingDriver types.ID  `json:"awaiting_driver,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// GetMove returns the move to its customer, its assigned driver or an admin.
// Admins also see the live solicitation round.
func (e *Engine) GetMove(ctx context.Context, moveID, requesterID types.ID, role move.Role) (*MoveView, error) {
	m, err := e.moves.Get(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if !e.canAct(m, requesterID, role) {
		return nil, fmt.Errorf("%w: not a party to this move", move.ErrForbidden)
	}
	view := &MoveView{Move: m}
	if role == move.RoleAdmin {
		if r, ok := e.book.current(moveID); ok {
			view.Solicitation = &SolicitationView{
				Attempt:        r.attempt,
				MaxAttempts:    e.cfg.MaxAttempts,
				AwaitingDriver: r.driverID,
				ExpiresAt:      r.deadline.UTC(),
			}
		}
	}
	return view, nil
}

// Events returns the audit trail under the same access rule as GetMove.
func (e *Engine) Events(ctx context.Context, moveID, requesterID types.ID, role move.Role) ([]move.Event, error) {
	if _, err := e.GetMove(ctx, moveID, requesterID, role); err != nil {
		return nil, err
	}
	return e.moves.Events(ctx, moveID)
}

// ConfirmPayment settles a card payment reported by the payment provider.
// Repeated confirmations for the same reference are no-ops.
func (e *Engine) ConfirmPayment(ctx context.Context, reference string) (*move.Move, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", move.ErrValidation)
	}
	m, err := e.moves.GetByPaymentReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	ok, err := e.moves.UpdatePayment(ctx, m.ID, move.PaymentAwaiting, move.Payment{Method: move.PaymentCard, Status: move.PaymentCompleted})
	if err != nil {
		return nil, err
	}
	if !ok {
		return m, nil
	}
	if err := e.payments.MarkPaid(ctx, m); err != nil {
		e.log.Error().Err(err).Str("move_id", string(m.ID)).Msg("mark ledger paid")
	}
	m.Payment.Status = move.PaymentCompleted
	e.log.Info().Str("move_id", string(m.ID)).Str("reference", reference).Msg("card payment confirmed")

	payload := PaymentPayload{MoveID: m.ID, Method: m.Payment.Method, Status: m.Payment.Status, Amount: m.Pricing.Total}
	e.notify(ctx, m.CustomerID, notify.EventPaymentDone, payload)
	if m.DriverID != nil {
		e.notify(ctx, *m.DriverID, notify.EventPaymentDone, payload)
	}
	return m, nil
}
