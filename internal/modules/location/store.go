// README: Location snapshot store backed by Postgres.
package location

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"movedispatch/internal/types"
)

type Store interface {
	AppendSnapshot(ctx context.Context, snap Snapshot) error
	RecentSnapshots(ctx context.Context, driverID types.ID, limit int) ([]Snapshot, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO driver_location_snapshots (driver_id, lat, lng, accuracy_m, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(snap.DriverID), snap.Position.Lat, snap.Position.Lng, snap.AccuracyM, snap.RecordedAt,
	)
	return err
}

func (s *PGStore) RecentSnapshots(ctx context.Context, driverID types.ID, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, lat, lng, accuracy_m, recorded_at
		FROM driver_location_snapshots
		WHERE driver_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, string(driverID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.DriverID, &snap.Position.Lat, &snap.Position.Lng, &snap.AccuracyM, &snap.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
