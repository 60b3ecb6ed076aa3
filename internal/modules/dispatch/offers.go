// README: In-memory offer book; one live solicitation round per move.
package dispatch

import (
	"sync"
	"time"

	"movedispatch/internal/types"
)

// round is one offer to one driver. A round with an empty driverID is a
// scheduled retry after a failed candidate search.
type round struct {
	moveID   types.ID
	driverID types.ID
	excluded []types.ID
	attempt  int
	token    uint64
	deadline time.Time
	timer    *time.Timer
}

type offerBook struct {
	mu     sync.Mutex
	rounds map[types.ID]*round
	seq    uint64
}

func newOfferBook() *offerBook {
	return &offerBook{rounds: make(map[types.ID]*round)}
}

// open replaces any live round for the move and arms its timer. fire
// receives the new round's token.
func (b *offerBook) open(moveID, driverID types.ID, excluded []types.ID, attempt int, wait time.Duration, fire func(driverID types.ID, token uint64)) round {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.rounds[moveID]; ok {
		old.timer.Stop()
	}
	b.seq++
	r := &round{
		moveID:   moveID,
		driverID: driverID,
		excluded: append([]types.ID(nil), excluded...),
		attempt:  attempt,
		token:    b.seq,
		deadline: time.Now().Add(wait),
	}
	token := r.token
	r.timer = time.AfterFunc(wait, func() { fire(driverID, token) })
	b.rounds[moveID] = r
	return *r
}

func (b *offerBook) current(moveID types.ID) (round, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rounds[moveID]
	if !ok {
		return round{}, false
	}
	return *r, true
}

// take removes the live round only if it still targets driverID and, when
// token is non-zero, carries that token. Stale events get ok=false.
func (b *offerBook) take(moveID, driverID types.ID, token uint64) (round, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rounds[moveID]
	if !ok || r.driverID != driverID || (token != 0 && r.token != token) {
		return round{}, false
	}
	r.timer.Stop()
	delete(b.rounds, moveID)
	return *r, true
}

// drop removes the live round whoever it targets.
func (b *offerBook) drop(moveID types.ID) (round, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rounds[moveID]
	if !ok {
		return round{}, false
	}
	r.timer.Stop()
	delete(b.rounds, moveID)
	return *r, true
}

func (b *offerBook) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rounds)
}

func (b *offerBook) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, r := range b.rounds {
		r.timer.Stop()
		delete(b.rounds, id)
	}
}
