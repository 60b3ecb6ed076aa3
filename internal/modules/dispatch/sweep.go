// README: Reconciliation sweep re-enters solicitation for PENDING moves nobody is working on.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

const sweepBatch = 100

// Sweep resumes every due PENDING move that has no live round here and no
// lease held elsewhere. It returns how many moves were resumed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	pending, err := e.moves.ListPending(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC()
	resumed := 0
	for _, m := range pending {
		if !e.due(m, now) {
			continue
		}
		ok, err := e.resume(ctx, m)
		if err != nil {
			e.log.Warn().Err(err).Str("move_id", string(m.ID)).Msg("sweep resume")
			continue
		}
		if ok {
			resumed++
		}
	}
	if resumed > 0 {
		e.log.Info().Int("resumed", resumed).Int("pending", len(pending)).Msg("sweep finished")
	}
	return resumed, nil
}

// due reports whether m should be under solicitation by now.
func (e *Engine) due(m *move.Move, now time.Time) bool {
	if m.ScheduledFor != nil {
		return !m.ScheduledFor.After(now.Add(e.cfg.ScheduleGrace))
	}
	return now.Sub(m.CreatedAt) >= e.cfg.StaleAfter
}

// Resume re-enters solicitation for one PENDING move regardless of its age.
func (e *Engine) Resume(ctx context.Context, moveID types.ID) error {
	m, err := e.moves.Get(ctx, moveID)
	if err != nil {
		return err
	}
	if m.Status != move.StatusPending {
		return fmt.Errorf("%w: move is %s", move.ErrInvalidTransition, m.Status)
	}
	ok, err := e.resume(ctx, m)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: solicitation already in progress", move.ErrConflict)
	}
	return nil
}

func (e *Engine) resume(ctx context.Context, m *move.Move) (bool, error) {
	if _, live := e.book.current(m.ID); live {
		return false, nil
	}
	claimed, err := e.matcher.ClaimLease(ctx, m.ID, e.leaseTTL())
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	offered, err := e.matcher.Offered(ctx, m.ID)
	if err != nil {
		return false, err
	}
	last, err := e.matcher.LoadRound(ctx, m.ID)
	if err != nil {
		return false, err
	}
	// Failed searches spend attempts without offering anyone.
	spent := max(last.Attempt, len(offered))
	e.log.Info().Str("move_id", string(m.ID)).Int("offered", len(offered)).Int("spent", spent).Msg("resuming solicitation")
	if spent >= e.cfg.MaxAttempts {
		e.markNoDrivers(ctx, m, "attempts exhausted")
		return true, nil
	}
	e.solicit(ctx, m, offered, spent+1)
	return true, nil
}

// Run sweeps every SweepInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	if e.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
			if _, err := e.Sweep(sctx); err != nil {
				e.log.Error().Err(err).Msg("sweep failed")
			}
			cancel()
		}
	}
}
