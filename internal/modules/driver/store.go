// README: Driver store port and its PostgreSQL implementation.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type Store interface {
	// Upsert inserts a driver or updates its profile; vehicle class and
	// availability are never changed by it.
	Upsert(ctx context.Context, d *Driver) (*Driver, error)
	GetDriver(ctx context.Context, id types.ID) (*Driver, error)
	// SetAvailable refuses available=true while the driver is assigned to a
	// non-terminal move.
	SetAvailable(ctx context.Context, id types.ID, available bool, at time.Time) (*Driver, error)
	SetApproved(ctx context.Context, id types.ID, approved bool, at time.Time) (*Driver, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) (*Driver, error)
	ListAvailable(ctx context.Context) ([]*Driver, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const driverColumns = `id, name, phone, vehicle_class, vehicle_plate, available, approved, lat, lng, updated_at`

func (s *PGStore) Upsert(ctx context.Context, d *Driver) (*Driver, error) {
	var out *Driver
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var class string
		err := tx.QueryRow(ctx, `SELECT vehicle_class FROM drivers WHERE id = $1 FOR UPDATE`, string(d.ID)).Scan(&class)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			row := tx.QueryRow(ctx, `
				INSERT INTO drivers (id, name, phone, vehicle_class, vehicle_plate, available, approved, updated_at)
				VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6)
				RETURNING `+driverColumns,
				string(d.ID), d.Name, d.Phone, d.VehicleClass, d.VehiclePlate, d.UpdatedAt,
			)
			out, err = scanDriver(row)
			return err
		case err != nil:
			return err
		case class != d.VehicleClass:
			return ErrClassChange
		}
		row := tx.QueryRow(ctx, `
			UPDATE drivers
			SET name = $2, phone = $3, vehicle_plate = $4, updated_at = $5
			WHERE id = $1
			RETURNING `+driverColumns,
			string(d.ID), d.Name, d.Phone, d.VehiclePlate, d.UpdatedAt,
		)
		out, err = scanDriver(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	return scanDriver(row)
}

func (s *PGStore) SetAvailable(ctx context.Context, id types.ID, available bool, at time.Time) (*Driver, error) {
	var out *Driver
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var approved bool
		err := tx.QueryRow(ctx, `SELECT approved FROM drivers WHERE id = $1 FOR UPDATE`, string(id)).Scan(&approved)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if available {
			if !approved {
				return ErrDriverNotApproved
			}
			var busy bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM moves WHERE driver_id = $1 AND status = ANY($2))`,
				string(id), activeStatuses(),
			).Scan(&busy); err != nil {
				return err
			}
			if busy {
				return ErrDriverBusy
			}
		}
		row := tx.QueryRow(ctx, `
			UPDATE drivers SET available = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+driverColumns, string(id), available, at)
		out, err = scanDriver(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) SetApproved(ctx context.Context, id types.ID, approved bool, at time.Time) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE drivers
		SET approved = $2,
		    available = CASE WHEN $2 THEN available ELSE FALSE END,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+driverColumns, string(id), approved, at)
	return scanDriver(row)
}

func (s *PGStore) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE drivers SET lat = $2, lng = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+driverColumns, string(id), p.Lat, p.Lng, at)
	return scanDriver(row)
}

func (s *PGStore) ListAvailable(ctx context.Context) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+` FROM drivers
		WHERE available AND approved AND lat IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng *float64
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.VehicleClass, &d.VehiclePlate, &d.Available, &d.Approved, &lat, &lng, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan driver: %w", err)
	}
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func activeStatuses() []string {
	ss := move.ActiveStatuses()
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
