// README: Address lookup via the Google Maps Geocoding API.
package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"movedispatch/internal/types"
)

// GeocodeService resolves free-form addresses to coordinates.
type GeocodeService struct {
	client *maps.Client
}

func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client}, nil
}

// Geocode returns the best match for address along with its formatted form.
func (s *GeocodeService) Geocode(ctx context.Context, address string) (types.Location, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Location{}, fmt.Errorf("empty address")
	}
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return types.Location{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return types.Location{}, fmt.Errorf("no geocoding result for %q", address)
	}
	r := results[0]
	return types.Location{
		Address: r.FormattedAddress,
		Point:   types.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
	}, nil
}
