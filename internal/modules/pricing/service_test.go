// README: Quote and rate lookup tests.
package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"movedispatch/internal/maps"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type fixedRouter struct {
	est maps.RouteEstimate
	err error
}

func (r fixedRouter) Route(context.Context, types.Point, types.Point) (maps.RouteEstimate, error) {
	return r.est, r.err
}

func TestQuote(t *testing.T) {
	rate := Rate{VehicleClass: "van", BaseFare: 3500, PerKm: 200, MinimumFare: 5000, Currency: "USD"}

	tests := []struct {
		name         string
		meters       int
		wantBase     int64
		wantDistance int64
	}{
		{name: "long trip", meters: 12_000, wantBase: 3500, wantDistance: 2400},
		{name: "fractional km rounds up", meters: 10_001, wantBase: 3500, wantDistance: 2001},
		{name: "minimum fare lifts base", meters: 2_000, wantBase: 4600, wantDistance: 400},
		{name: "zero distance", meters: 0, wantBase: 5000, wantDistance: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Quote(rate, maps.RouteEstimate{DistanceMeters: tt.meters, Duration: 20 * time.Minute})
			if p.Base.Amount != tt.wantBase || p.Distance.Amount != tt.wantDistance {
				t.Fatalf("got base=%d distance=%d, want %d/%d", p.Base.Amount, p.Distance.Amount, tt.wantBase, tt.wantDistance)
			}
			if p.Total.Amount != p.Base.Amount+p.Distance.Amount {
				t.Fatalf("total %d != base+distance", p.Total.Amount)
			}
			if p.Total.Currency != "USD" || p.Route.DurationMin != 20 {
				t.Fatalf("unexpected metadata %+v", p)
			}
		})
	}
}

func TestPriceUsesStoredRateBeforeDefault(t *testing.T) {
	stored := StaticRates{"van": {VehicleClass: "van", BaseFare: 100, PerKm: 10, Currency: "EUR"}}
	svc := NewService(stored, fixedRouter{est: maps.RouteEstimate{DistanceMeters: 1000}}, "USD")

	p, err := svc.Price(context.Background(), types.Point{}, types.Point{}, "van")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if p.Total.Amount != 110 || p.Total.Currency != "EUR" {
		t.Fatalf("expected stored rate, got %+v", p.Total)
	}

	p, err = svc.Price(context.Background(), types.Point{}, types.Point{}, "truck")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if p.Total.Currency != "USD" {
		t.Fatalf("expected default rate, got %+v", p.Total)
	}
}

func TestPriceErrors(t *testing.T) {
	svc := NewService(StaticRates{}, fixedRouter{}, "USD")
	if _, err := svc.Price(context.Background(), types.Point{}, types.Point{}, "spaceship"); !errors.Is(err, move.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	svc = NewService(StaticRates{}, fixedRouter{err: errors.New("down")}, "USD")
	if _, err := svc.Price(context.Background(), types.Point{}, types.Point{}, "van"); !errors.Is(err, move.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
