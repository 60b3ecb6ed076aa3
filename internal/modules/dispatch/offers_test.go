// README: Offer book tests (supersede, identity, timers).
package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"movedispatch/internal/types"
)

func TestOfferBookTakeChecksIdentity(t *testing.T) {
	b := newOfferBook()
	var fired atomic.Int32
	r := b.open("m1", "d1", []types.ID{"d1"}, 1, time.Hour, func(types.ID, uint64) { fired.Add(1) })

	if _, ok := b.take("m1", "d2", 0); ok {
		t.Fatalf("take by another driver must fail")
	}
	if _, ok := b.take("m1", "d1", r.token+1); ok {
		t.Fatalf("take with a stale token must fail")
	}
	got, ok := b.take("m1", "d1", r.token)
	if !ok || got.attempt != 1 {
		t.Fatalf("expected live round, got %+v ok=%v", got, ok)
	}
	if _, ok := b.take("m1", "d1", r.token); ok {
		t.Fatalf("second take must fail")
	}
	if fired.Load() != 0 {
		t.Fatalf("timer fired after take")
	}
}

func TestOfferBookOpenSupersedes(t *testing.T) {
	b := newOfferBook()
	first := b.open("m1", "d1", nil, 1, time.Hour, func(types.ID, uint64) {})
	second := b.open("m1", "d2", []types.ID{"d1", "d2"}, 2, time.Hour, func(types.ID, uint64) {})
	if second.token == first.token {
		t.Fatalf("tokens must differ")
	}
	if _, ok := b.take("m1", "d1", first.token); ok {
		t.Fatalf("superseded round must not be taken")
	}
	cur, ok := b.current("m1")
	if !ok || cur.driverID != "d2" || len(cur.excluded) != 2 {
		t.Fatalf("unexpected current round %+v", cur)
	}
	if b.len() != 1 {
		t.Fatalf("expected 1 round, got %d", b.len())
	}
	b.clear()
	if b.len() != 0 {
		t.Fatalf("expected empty book")
	}
}

func TestOfferBookTimerFiresWithToken(t *testing.T) {
	b := newOfferBook()
	got := make(chan uint64, 1)
	r := b.open("m1", "d1", nil, 1, 10*time.Millisecond, func(_ types.ID, token uint64) { got <- token })
	select {
	case token := <-got:
		if token != r.token {
			t.Fatalf("expected token %d, got %d", r.token, token)
		}
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
}
