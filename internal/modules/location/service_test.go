// README: Location update and index refresh tests.
package location_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/location"
	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/storage/memory"
	"movedispatch/internal/types"
)

func setup(t *testing.T) (*location.Service, *driver.Service, *matching.MemoryStore, *memory.Store) {
	t.Helper()
	store := memory.New()
	geo := matching.NewMemoryStore()
	idx := matching.NewService(geo, geo)
	drivers := driver.NewService(store, idx, zerolog.Nop())
	return location.NewService(store, store, idx, zerolog.Nop()), drivers, geo, store
}

func TestUpdateAvailableDriverRefreshesIndex(t *testing.T) {
	ctx := context.Background()
	svc, drivers, geo, store := setup(t)

	if _, err := drivers.Register(ctx, driver.RegisterCommand{DriverID: "d1", VehicleClass: "van"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := drivers.Approve(ctx, "d1", true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p := types.Point{Lat: 40.7128, Lng: -74.0060}
	if _, err := drivers.SetAvailability(ctx, driver.SetAvailabilityCommand{DriverID: "d1", Available: true, Position: &p}); err != nil {
		t.Fatalf("available: %v", err)
	}

	next := types.Point{Lat: 40.7200, Lng: -74.0000}
	if err := svc.Update(ctx, location.Update{DriverID: "d1", Position: next, AccuracyM: 5}); err != nil {
		t.Fatalf("update: %v", err)
	}
	hits, err := geo.Search(ctx, next, "van", 10)
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected driver indexed at new position, got %v %v", hits, err)
	}

	snaps, err := svc.Recent(ctx, "d1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Position != next {
		t.Fatalf("unexpected snapshots: %v", snaps)
	}
	d, _ := store.GetDriver(ctx, "d1")
	if d.Location == nil || *d.Location != next {
		t.Fatalf("expected stored location updated, got %v", d.Location)
	}
}

func TestUpdateUnavailableDriverStaysOutOfIndex(t *testing.T) {
	ctx := context.Background()
	svc, drivers, geo, _ := setup(t)

	if _, err := drivers.Register(ctx, driver.RegisterCommand{DriverID: "d2", VehicleClass: "van"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p := types.Point{Lat: 40.7580, Lng: -73.9855}
	if err := svc.Update(ctx, location.Update{DriverID: "d2", Position: p}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if geo.Has("d2", "van") {
		t.Fatalf("unavailable driver must not be indexed")
	}
}

func TestUpdateRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setup(t)

	err := svc.Update(ctx, location.Update{DriverID: "d1", Position: types.Point{Lat: 91, Lng: 0}})
	if !errors.Is(err, move.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = svc.Update(ctx, location.Update{DriverID: "ghost", Position: types.Point{Lat: 1, Lng: 1}})
	if !errors.Is(err, move.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
