// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RateStore interface {
	// GetRate reports ok=false when the class has no stored rate.
	GetRate(ctx context.Context, vehicleClass string) (Rate, bool, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, vehicleClass string) (Rate, bool, error) {
	var r Rate
	err := s.db.QueryRow(ctx, `
		SELECT vehicle_class, base_fare, per_km, minimum_fare, currency
		FROM vehicle_rates WHERE vehicle_class = $1`, vehicleClass,
	).Scan(&r.VehicleClass, &r.BaseFare, &r.PerKm, &r.MinimumFare, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, false, nil
	}
	if err != nil {
		return Rate{}, false, err
	}
	return r, true, nil
}

// StaticRates serves rates from memory.
type StaticRates map[string]Rate

func (s StaticRates) GetRate(_ context.Context, vehicleClass string) (Rate, bool, error) {
	r, ok := s[vehicleClass]
	return r, ok, nil
}
