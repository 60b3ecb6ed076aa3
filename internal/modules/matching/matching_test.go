// README: Matching service tests over the in-memory store, plus a Redis-backed run when available.
package matching

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"movedispatch/internal/types"
)

var origin = types.Point{Lat: 25.033, Lng: 121.565}

// offset returns a point roughly meters north of origin.
func offset(meters float64) types.Point {
	return types.Point{Lat: origin.Lat + meters/111_000, Lng: origin.Lng}
}

func TestFindNearbyDrivers_ClosestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, store)

	mustAdd(t, svc, "far", "van", offset(4000))
	mustAdd(t, svc, "near", "van", offset(500))
	mustAdd(t, svc, "mid", "van", offset(2000))
	mustAdd(t, svc, "truck", "truck", offset(100))
	mustAdd(t, svc, "outside", "van", offset(20000))

	got, err := svc.FindNearbyDrivers(ctx, origin, "van", 10000, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := []types.ID{"near", "mid", "far"}
	assertIDs(t, got, want)
}

func TestFindNearbyDrivers_Excluding(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, store)

	mustAdd(t, svc, "a", "van", offset(100))
	mustAdd(t, svc, "b", "van", offset(200))
	mustAdd(t, svc, "c", "van", offset(300))

	got, err := svc.FindNearbyDrivers(ctx, origin, "van", 10000, []types.ID{"a", "c"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	assertIDs(t, got, []types.ID{"b"})

	got, err = svc.FindNearbyDrivers(ctx, origin, "van", 10000, []types.ID{"a", "b", "c"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestWithdrawAndRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, store)

	mustAdd(t, svc, "d1", "van", offset(100))
	if err := svc.Withdraw(ctx, "d1", "van"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if store.Has("d1", "van") {
		t.Fatalf("expected d1 withdrawn")
	}
	if err := svc.Restore(ctx, Candidate{DriverID: "d1", VehicleClass: "van", Position: offset(50)}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := svc.FindNearbyDrivers(ctx, origin, "van", 1000, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	assertIDs(t, got, []types.ID{"d1"})
}

func TestLedgerLease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ok, err := store.ClaimLease(ctx, "m1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, _ = store.ClaimLease(ctx, "m1", time.Minute)
	if ok {
		t.Fatalf("second claim must fail while lease is live")
	}
	now = now.Add(2 * time.Minute)
	ok, _ = store.ClaimLease(ctx, "m1", time.Minute)
	if !ok {
		t.Fatalf("claim must succeed after expiry")
	}

	_ = store.RecordOffer(ctx, "m1", "d1")
	_ = store.RecordOffer(ctx, "m1", "d2")
	_ = store.RecordOffer(ctx, "m1", "d1")
	offered, _ := store.Offered(ctx, "m1")
	if len(offered) != 2 || offered[0] != "d1" || offered[1] != "d2" {
		t.Fatalf("expected [d1 d2] in offer order, got %v", offered)
	}
	_ = store.SaveRound(ctx, "m1", Round{Attempt: 2, DriverID: "d2", ExpiresAt: now.Add(time.Minute)})
	_ = store.Forget(ctx, "m1")
	offered, _ = store.Offered(ctx, "m1")
	if len(offered) != 0 {
		t.Fatalf("expected offered set cleared, got %v", offered)
	}
	if r, _ := store.LoadRound(ctx, "m1"); r != (Round{}) {
		t.Fatalf("expected round cleared, got %+v", r)
	}
	ok, _ = store.ClaimLease(ctx, "m1", time.Minute)
	if !ok {
		t.Fatalf("claim must succeed after forget")
	}
}

func TestRoundTargets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r, err := store.LoadRound(ctx, "m1")
	if err != nil || r != (Round{}) {
		t.Fatalf("expected zero round, got %+v err=%v", r, err)
	}
	if err := store.SaveRound(ctx, "m1", Round{Attempt: 1, DriverID: "d1", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("save round: %v", err)
	}
	r, _ = store.LoadRound(ctx, "m1")
	if !r.Targets("d1", now) {
		t.Fatalf("d1 should hold the offer: %+v", r)
	}
	if r.Targets("d2", now) || r.Targets("d1", now.Add(2*time.Minute)) || r.Targets("", now) {
		t.Fatalf("only d1 may hold the offer, and only before expiry")
	}

	// A decline keeps the attempt count but clears the target.
	_ = store.SaveRound(ctx, "m1", Round{Attempt: 1})
	r, _ = store.LoadRound(ctx, "m1")
	if r.Attempt != 1 || r.Targets("d1", now) {
		t.Fatalf("unexpected round after decline: %+v", r)
	}
}

func TestConcurrentLeaseClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := store.ClaimLease(ctx, "m_race", time.Minute)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 lease winner, got %d", wins)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MOVEDISPATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MOVEDISPATCH_TEST_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	store := NewRedisStore(rdb)
	svc := NewService(store, store)

	class := fmt.Sprintf("van_%d", time.Now().UnixNano())
	mustAdd(t, svc, "r_far", class, offset(3000))
	mustAdd(t, svc, "r_near", class, offset(300))
	t.Cleanup(func() { rdb.Del(ctx, driverGeoKey(class)) })

	got, err := svc.FindNearbyDrivers(ctx, origin, class, 5000, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	assertIDs(t, got, []types.ID{"r_near", "r_far"})
	if got[0].DistanceMeters <= 0 || got[0].DistanceMeters > got[1].DistanceMeters {
		t.Fatalf("unexpected distances: %v", got)
	}

	moveID := types.ID(fmt.Sprintf("m_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = store.Forget(ctx, moveID) })
	if err := svc.RecordOffer(ctx, moveID, "r_near"); err != nil {
		t.Fatalf("record offer: %v", err)
	}
	offered, err := svc.Offered(ctx, moveID)
	if err != nil || len(offered) != 1 || offered[0] != "r_near" {
		t.Fatalf("offered: %v %v", offered, err)
	}
	if err := svc.RecordOffer(ctx, moveID, "r_far"); err != nil {
		t.Fatalf("record offer: %v", err)
	}
	offered, err = svc.Offered(ctx, moveID)
	if err != nil || len(offered) != 2 || offered[1] != "r_far" {
		t.Fatalf("offered order: %v %v", offered, err)
	}

	expires := time.Now().Add(time.Minute).Truncate(time.Millisecond).UTC()
	if err := svc.SaveRound(ctx, moveID, Round{Attempt: 2, DriverID: "r_far", ExpiresAt: expires}); err != nil {
		t.Fatalf("save round: %v", err)
	}
	r, err := svc.LoadRound(ctx, moveID)
	if err != nil || r.Attempt != 2 || r.DriverID != "r_far" || !r.ExpiresAt.Equal(expires) {
		t.Fatalf("load round: %+v %v", r, err)
	}

	ok, err := svc.ClaimLease(ctx, moveID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim lease: ok=%v err=%v", ok, err)
	}
	ok, err = svc.ClaimLease(ctx, moveID, time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim should fail: ok=%v err=%v", ok, err)
	}
}

func mustAdd(t *testing.T, svc *Service, id types.ID, class string, p types.Point) {
	t.Helper()
	if err := svc.Restore(context.Background(), Candidate{DriverID: id, VehicleClass: class, Position: p}); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func assertIDs(t *testing.T, got []Nearby, want []types.ID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i].DriverID != want[i] {
			t.Fatalf("position %d: expected %s, got %s (all: %v)", i, want[i], got[i].DriverID, got)
		}
	}
}
