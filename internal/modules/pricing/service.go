// README: Pricing service computes the fare snapshot taken at move creation.
package pricing

import (
	"context"
	"fmt"
	"math"

	"movedispatch/internal/maps"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type Service struct {
	rates    RateStore
	router   maps.Router
	defaults map[string]Rate
}

func NewService(rates RateStore, router maps.Router, currency string) *Service {
	return &Service{rates: rates, router: router, defaults: DefaultRates(currency)}
}

// Price maps (pickup, delivery, vehicle class) to a price breakdown and route
// metadata. Unknown classes are a validation error; rate or route lookup
// failures are upstream errors.
func (s *Service) Price(ctx context.Context, pickup, delivery types.Point, vehicleClass string) (move.Pricing, error) {
	rate, ok, err := s.rates.GetRate(ctx, vehicleClass)
	if err != nil {
		return move.Pricing{}, fmt.Errorf("%w: rate lookup: %v", move.ErrUpstream, err)
	}
	if !ok {
		rate, ok = s.defaults[vehicleClass]
		if !ok {
			return move.Pricing{}, fmt.Errorf("%w: unknown vehicle class %q", move.ErrValidation, vehicleClass)
		}
	}
	est, err := s.router.Route(ctx, pickup, delivery)
	if err != nil {
		return move.Pricing{}, fmt.Errorf("%w: route: %v", move.ErrUpstream, err)
	}
	return Quote(rate, est), nil
}

// Quote applies a rate to a route estimate.
func Quote(rate Rate, est maps.RouteEstimate) move.Pricing {
	km := float64(est.DistanceMeters) / 1000
	distance := int64(math.Ceil(km * float64(rate.PerKm)))
	base := rate.BaseFare
	if base+distance < rate.MinimumFare {
		// the shortfall is billed as base fare
		base = rate.MinimumFare - distance
	}
	return move.Pricing{
		Base:     types.Money{Amount: base, Currency: rate.Currency},
		Distance: types.Money{Amount: distance, Currency: rate.Currency},
		Total:    types.Money{Amount: base + distance, Currency: rate.Currency},
		Route: move.Route{
			DistanceKm:  math.Round(km*100) / 100,
			DurationMin: math.Round(est.Duration.Minutes()*10) / 10,
		},
	}
}
