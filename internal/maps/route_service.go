// README: Route estimates from the Google Maps Directions API, with a straight-line fallback.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"movedispatch/internal/types"
)

// RouteEstimate is the driving distance and duration between two points.
type RouteEstimate struct {
	DistanceMeters int
	Duration       time.Duration
}

type Router interface {
	Route(ctx context.Context, from, to types.Point) (RouteEstimate, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Route returns the first driving route's first leg.
func (s *RouteService) Route(ctx context.Context, from, to types.Point) (RouteEstimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return RouteEstimate{}, fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return RouteEstimate{}, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return RouteEstimate{DistanceMeters: leg.Distance.Meters, Duration: leg.Duration}, nil
}

// StraightLine estimates a route from great-circle distance. Used when no
// API key is configured or the Directions call fails.
type StraightLine struct {
	// Detour scales the great-circle distance to approximate road distance.
	Detour   float64
	SpeedKmh float64
}

func NewStraightLine() StraightLine {
	return StraightLine{Detour: 1.3, SpeedKmh: 30}
}

func (s StraightLine) Route(_ context.Context, from, to types.Point) (RouteEstimate, error) {
	km := types.DistanceKm(from, to) * s.Detour
	hours := km / s.SpeedKmh
	return RouteEstimate{
		DistanceMeters: int(km * 1000),
		Duration:       time.Duration(hours * float64(time.Hour)).Round(time.Second),
	}, nil
}

// Fallback tries Primary and answers from Secondary when it fails.
type Fallback struct {
	Primary   Router
	Secondary Router
}

func (f Fallback) Route(ctx context.Context, from, to types.Point) (RouteEstimate, error) {
	if f.Primary != nil {
		if est, err := f.Primary.Route(ctx, from, to); err == nil {
			return est, nil
		}
	}
	return f.Secondary.Route(ctx, from, to)
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
