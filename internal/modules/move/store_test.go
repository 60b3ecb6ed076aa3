// README: DB-backed store tests for conditional updates (run with -race).
package move

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"movedispatch/internal/migrations"
	"movedispatch/internal/types"
)

func TestStoreConcurrentAcceptSameMove(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)

	m := mustCreateMove(t, store, "c_multi_accept")

	const attempts = 8
	for i := 0; i < attempts; i++ {
		insertDriver(t, db, types.ID(fmt.Sprintf("d%d", i)), "van", true, true)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		did := types.ID(fmt.Sprintf("d%d", i))
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			_, err := store.Apply(ctx, Change{
				MoveID: m.ID, From: StatusPending, Version: m.Version, To: StatusAccepted,
				Role: RoleDriver, ActorID: &did, AssignDriver: &did, VehicleClass: "van",
				At: time.Now().UTC(),
			})
			errs <- err
		}(did)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	got, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get move: %v", err)
	}
	if got.Status != StatusAccepted || got.DriverID == nil {
		t.Fatalf("unexpected final state: %s driver=%v", got.Status, got.DriverID)
	}
	if got.Version != m.Version+1 {
		t.Fatalf("expected version %d, got %d", m.Version+1, got.Version)
	}

	var available int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM drivers WHERE available`).Scan(&available); err != nil {
		t.Fatalf("count drivers: %v", err)
	}
	if available != attempts-1 {
		t.Fatalf("expected %d available drivers, got %d", attempts-1, available)
	}
}

func TestStoreClaimRollsBackOnIneligibleDriver(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)

	m := mustCreateMove(t, store, "c_ineligible")
	insertDriver(t, db, "d_truck", "truck", true, true)
	insertDriver(t, db, "d_new", "van", true, false)
	insertDriver(t, db, "d_busy", "van", false, true)

	cases := []struct {
		driver types.ID
		want   error
	}{
		{"d_truck", ErrVehicleMismatch},
		{"d_new", ErrDriverNotApproved},
		{"d_busy", ErrDriverUnavailable},
		{"d_missing", ErrDriverNotFound},
	}
	for _, tc := range cases {
		did := tc.driver
		_, err := store.Apply(ctx, Change{
			MoveID: m.ID, From: StatusPending, Version: m.Version, To: StatusAccepted,
			Role: RoleDriver, ActorID: &did, AssignDriver: &did, VehicleClass: "van",
			At: time.Now().UTC(),
		})
		if !errors.Is(err, tc.want) {
			t.Fatalf("driver %s: expected %v, got %v", did, tc.want, err)
		}
	}

	got, err := store.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get move: %v", err)
	}
	if got.Status != StatusPending || got.Version != m.Version || got.DriverID != nil {
		t.Fatalf("move changed after failed claims: %s v%d", got.Status, got.Version)
	}
	events, err := store.Events(ctx, m.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the creation event, got %d", len(events))
	}
}

func TestStoreCancelReleasesDriver(t *testing.T) {
	ctx := context.Background()
	store, db := setupTestStore(t)

	m := mustCreateMove(t, store, "c_cancel")
	did := types.ID("d1")
	insertDriver(t, db, did, "van", true, true)

	accepted, err := store.Apply(ctx, Change{
		MoveID: m.ID, From: StatusPending, Version: m.Version, To: StatusAccepted,
		Role: RoleDriver, ActorID: &did, AssignDriver: &did, VehicleClass: "van", At: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	customer := m.CustomerID
	at := time.Now().UTC()
	cancelled, err := store.Apply(ctx, Change{
		MoveID: m.ID, From: StatusAccepted, Version: accepted.Version, To: StatusCancelledByCustomer,
		Role: RoleCustomer, ActorID: &customer, Reason: "changed plans",
		ReleaseDriver: &did,
		Cancellation:  &Cancellation{Reason: "changed plans", Role: RoleCustomer, ActorID: customer, At: at},
		At:            at,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Cancellation == nil || cancelled.Cancellation.Reason != "changed plans" {
		t.Fatalf("expected cancellation metadata, got %+v", cancelled.Cancellation)
	}

	var available bool
	if err := db.QueryRow(ctx, `SELECT available FROM drivers WHERE id = $1`, string(did)).Scan(&available); err != nil {
		t.Fatalf("read driver: %v", err)
	}
	if !available {
		t.Fatalf("expected driver released")
	}

	// Stale version loses.
	if _, err := store.Apply(ctx, Change{
		MoveID: m.ID, From: StatusAccepted, Version: accepted.Version, To: StatusCancelledByAdmin,
		Role: RoleAdmin, At: time.Now().UTC(),
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on stale apply, got %v", err)
	}

	events, err := store.Events(ctx, m.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestStorePaymentUpdateOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)

	m := mustCreateMove(t, store, "c_pay")
	ok, err := store.UpdatePayment(ctx, m.ID, PaymentPending, Payment{Method: PaymentCard, Status: PaymentAwaiting, Reference: "cs_1", URL: "https://pay"})
	if err != nil || !ok {
		t.Fatalf("first update: ok=%v err=%v", ok, err)
	}
	ok, err = store.UpdatePayment(ctx, m.ID, PaymentPending, Payment{Method: PaymentCard, Status: PaymentAwaiting, Reference: "cs_2"})
	if err != nil || ok {
		t.Fatalf("second update should lose: ok=%v err=%v", ok, err)
	}
	got, err := store.GetByPaymentReference(ctx, "cs_1")
	if err != nil {
		t.Fatalf("get by reference: %v", err)
	}
	if got.ID != m.ID || got.Payment.URL != "https://pay" {
		t.Fatalf("unexpected move %+v", got.Payment)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func mustCreateMove(t *testing.T, store *PGStore, customer types.ID) *Move {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	m := &Move{
		ID:           types.ID(fmt.Sprintf("m_%s_%d", customer, now.UnixNano())),
		CustomerID:   customer,
		Status:       StatusPending,
		Pickup:       types.Location{Address: "A", Point: types.Point{Lat: 25.033, Lng: 121.565}},
		Delivery:     types.Location{Address: "B", Point: types.Point{Lat: 25.0478, Lng: 121.5318}},
		VehicleClass: "van",
		Items:        []Item{{Name: "box", Quantity: 3}},
		Pricing: Pricing{
			Base:     types.Money{Amount: 1000, Currency: "USD"},
			Distance: types.Money{Amount: 500, Currency: "USD"},
			Total:    types.Money{Amount: 1500, Currency: "USD"},
		},
		Payment:   Payment{Method: PaymentCard, Status: PaymentPending},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(context.Background(), m); err != nil {
		t.Fatalf("create move: %v", err)
	}
	return m
}

func insertDriver(t *testing.T, db *pgxpool.Pool, id types.ID, class string, available, approved bool) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO drivers (id, vehicle_class, available, approved)
		VALUES ($1, $2, $3, $4)`, string(id), class, available, approved)
	if err != nil {
		t.Fatalf("insert driver: %v", err)
	}
}

func setupTestStore(t *testing.T) (*PGStore, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("MOVEDISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("MOVEDISPATCH_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE payments, move_state_events, moves, driver_location_snapshots, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPGStore(db), db
}
