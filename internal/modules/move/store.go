// README: Move store port and its PostgreSQL implementation (conditional updates inside one transaction).
package move

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"movedispatch/internal/types"
)

// Change is one atomic conditional update. It applies only while the stored
// status and version still equal From and Version; the driver side effects and
// the audit event commit or roll back together with it.
type Change struct {
	MoveID  types.ID
	From    Status
	Version int
	To      Status
	Role    Role
	ActorID *types.ID
	Reason  string
	At      time.Time

	// AssignDriver claims the driver for the move. The driver must be
	// available, approved and of VehicleClass; it becomes unavailable.
	AssignDriver *types.ID
	VehicleClass string

	// ReleaseDriver makes the driver available again, at ReleaseAt when set.
	ReleaseDriver *types.ID
	ReleaseAt     *types.Point

	Cancellation  *Cancellation
	PaymentStatus PaymentStatus
}

type Store interface {
	Create(ctx context.Context, m *Move) error
	Get(ctx context.Context, id types.ID) (*Move, error)
	HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error)
	Apply(ctx context.Context, c Change) (*Move, error)
	// UpdatePayment swaps payment state while the payment status equals from.
	UpdatePayment(ctx context.Context, id types.ID, from PaymentStatus, p Payment) (bool, error)
	GetByPaymentReference(ctx context.Context, ref string) (*Move, error)
	ListPending(ctx context.Context, limit int) ([]*Move, error)
	Events(ctx context.Context, id types.ID) ([]Event, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const moveColumns = `
	id, customer_id, driver_id, status, status_version,
	pickup_address, pickup_lat, pickup_lng, delivery_address, delivery_lat, delivery_lng,
	vehicle_class, items, base_price, distance_price, total_price, currency,
	route_distance_km, route_duration_min,
	payment_method, payment_status, payment_reference, payment_url,
	cancel_reason, cancel_role, cancel_actor_id,
	scheduled_for, created_at, updated_at, accepted_at, arrived_pickup_at, picked_up_at,
	in_transit_at, arrived_delivery_at, delivered_at, cancelled_at`

func (s *PGStore) Create(ctx context.Context, m *Move) error {
	items := m.Items
	if items == nil {
		items = []Item{}
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO moves (
				id, customer_id, driver_id, status, status_version,
				pickup_address, pickup_lat, pickup_lng, delivery_address, delivery_lat, delivery_lng,
				vehicle_class, items, base_price, distance_price, total_price, currency,
				route_distance_km, route_duration_min,
				payment_method, payment_status, scheduled_for, created_at, updated_at
			) VALUES (
				$1, $2, NULL, $3, $4,
				$5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16,
				$17, $18,
				$19, $20, $21, $22, $22
			)`,
			string(m.ID), string(m.CustomerID), string(m.Status), m.Version,
			m.Pickup.Address, m.Pickup.Point.Lat, m.Pickup.Point.Lng,
			m.Delivery.Address, m.Delivery.Point.Lat, m.Delivery.Point.Lng,
			m.VehicleClass, items,
			m.Pricing.Base.Amount, m.Pricing.Distance.Amount, m.Pricing.Total.Amount, m.Pricing.Total.Currency,
			m.Pricing.Route.DistanceKm, m.Pricing.Route.DurationMin,
			string(m.Payment.Method), string(m.Payment.Status), m.ScheduledFor, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert move: %w", err)
		}
		return appendEvent(ctx, tx, &Event{
			MoveID:     m.ID,
			FromStatus: StatusNone,
			ToStatus:   m.Status,
			Role:       RoleCustomer,
			ActorID:    &m.CustomerID,
			CreatedAt:  m.CreatedAt,
		})
	})
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Move, error) {
	row := s.db.QueryRow(ctx, `SELECT `+moveColumns+` FROM moves WHERE id = $1`, string(id))
	return scanMove(row)
}

func (s *PGStore) GetByPaymentReference(ctx context.Context, ref string) (*Move, error) {
	row := s.db.QueryRow(ctx, `SELECT `+moveColumns+` FROM moves WHERE payment_reference = $1`, ref)
	return scanMove(row)
}

func (s *PGStore) HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM moves
			WHERE customer_id = $1 AND status = ANY($2)
		)`, string(customerID), statusStrings(ActiveStatuses()),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PGStore) ListPending(ctx context.Context, limit int) ([]*Move, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+moveColumns+` FROM moves
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) Apply(ctx context.Context, c Change) (*Move, error) {
	var updated *Move
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var cancelReason, cancelRole, cancelActor *string
		if c.Cancellation != nil {
			r, role, a := c.Cancellation.Reason, string(c.Cancellation.Role), string(c.Cancellation.ActorID)
			cancelReason, cancelRole, cancelActor = &r, &role, &a
		}
		var payStatus *string
		if c.PaymentStatus != "" {
			p := string(c.PaymentStatus)
			payStatus = &p
		}
		row := tx.QueryRow(ctx, `
			UPDATE moves
			SET status = $1,
			    status_version = status_version + 1,
			    driver_id = COALESCE($2, driver_id),
			    payment_status = COALESCE($3, payment_status),
			    cancel_reason = COALESCE($4, cancel_reason),
			    cancel_role = COALESCE($5, cancel_role),
			    cancel_actor_id = COALESCE($6, cancel_actor_id),
			    updated_at = $7,
			    accepted_at = CASE WHEN $1 = 'accepted' THEN $7 ELSE accepted_at END,
			    arrived_pickup_at = CASE WHEN $1 = 'arrived_at_pickup' THEN $7 ELSE arrived_pickup_at END,
			    picked_up_at = CASE WHEN $1 = 'picked_up' THEN $7 ELSE picked_up_at END,
			    in_transit_at = CASE WHEN $1 = 'in_transit' THEN $7 ELSE in_transit_at END,
			    arrived_delivery_at = CASE WHEN $1 = 'arrived_at_delivery' THEN $7 ELSE arrived_delivery_at END,
			    delivered_at = CASE WHEN $1 = 'delivered' THEN $7 ELSE delivered_at END,
			    cancelled_at = CASE WHEN $1 LIKE 'cancelled_%' THEN $7 ELSE cancelled_at END
			WHERE id = $8 AND status = $9 AND status_version = $10
			  AND ($2::text IS NULL OR driver_id IS NULL)
			RETURNING `+moveColumns,
			string(c.To), idPtr(c.AssignDriver), payStatus,
			cancelReason, cancelRole, cancelActor,
			c.At, string(c.MoveID), string(c.From), c.Version,
		)
		m, err := scanMove(row)
		if errors.Is(err, ErrMoveNotFound) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM moves WHERE id = $1)`, string(c.MoveID)).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrMoveNotFound
			}
			return ErrConflict
		}
		if err != nil {
			return err
		}

		if c.AssignDriver != nil {
			if err := claimDriver(ctx, tx, *c.AssignDriver, c.VehicleClass, c.At); err != nil {
				return err
			}
		}
		if c.ReleaseDriver != nil {
			if err := releaseDriver(ctx, tx, *c.ReleaseDriver, c.ReleaseAt, c.At); err != nil {
				return err
			}
		}
		if err := appendEvent(ctx, tx, &Event{
			MoveID:     c.MoveID,
			FromStatus: c.From,
			ToStatus:   c.To,
			Role:       c.Role,
			ActorID:    c.ActorID,
			Reason:     c.Reason,
			CreatedAt:  c.At,
		}); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PGStore) UpdatePayment(ctx context.Context, id types.ID, from PaymentStatus, p Payment) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE moves
		SET payment_status = $1,
		    payment_reference = COALESCE(NULLIF($2, ''), payment_reference),
		    payment_url = COALESCE(NULLIF($3, ''), payment_url),
		    updated_at = NOW()
		WHERE id = $4 AND payment_status = $5`,
		string(p.Status), p.Reference, p.URL, string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, move_id, from_status, to_status, actor_role, actor_id, reason, created_at
		FROM move_state_events
		WHERE move_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.MoveID, &e.FromStatus, &e.ToStatus, &e.Role, &actorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			a := types.ID(*actorID)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// claimDriver locks the driver row and flips it to unavailable. Move row is
// already locked by the conditional update, so the lock order is move, driver.
func claimDriver(ctx context.Context, tx pgx.Tx, driverID types.ID, vehicleClass string, at time.Time) error {
	var available, approved bool
	var class string
	err := tx.QueryRow(ctx, `
		SELECT available, approved, vehicle_class
		FROM drivers WHERE id = $1
		FOR UPDATE`, string(driverID),
	).Scan(&available, &approved, &class)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDriverNotFound
	}
	if err != nil {
		return err
	}
	switch {
	case !approved:
		return ErrDriverNotApproved
	case class != vehicleClass:
		return ErrVehicleMismatch
	case !available:
		return ErrDriverUnavailable
	}
	_, err = tx.Exec(ctx, `UPDATE drivers SET available = FALSE, updated_at = $2 WHERE id = $1`, string(driverID), at)
	return err
}

func releaseDriver(ctx context.Context, tx pgx.Tx, driverID types.ID, at *types.Point, now time.Time) error {
	var lat, lng *float64
	if at != nil {
		lat, lng = &at.Lat, &at.Lng
	}
	_, err := tx.Exec(ctx, `
		UPDATE drivers
		SET available = TRUE,
		    lat = COALESCE($2, lat),
		    lng = COALESCE($3, lng),
		    updated_at = $4
		WHERE id = $1`, string(driverID), lat, lng, now)
	return err
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO move_state_events (
			move_id, from_status, to_status, actor_role, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.MoveID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.Role),
		idPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func scanMove(row pgx.Row) (*Move, error) {
	var m Move
	var driverID, payRef, payURL *string
	var cancelReason, cancelRole, cancelActor *string
	err := row.Scan(
		&m.ID, &m.CustomerID, &driverID, &m.Status, &m.Version,
		&m.Pickup.Address, &m.Pickup.Point.Lat, &m.Pickup.Point.Lng,
		&m.Delivery.Address, &m.Delivery.Point.Lat, &m.Delivery.Point.Lng,
		&m.VehicleClass, &m.Items,
		&m.Pricing.Base.Amount, &m.Pricing.Distance.Amount, &m.Pricing.Total.Amount, &m.Pricing.Total.Currency,
		&m.Pricing.Route.DistanceKm, &m.Pricing.Route.DurationMin,
		&m.Payment.Method, &m.Payment.Status, &payRef, &payURL,
		&cancelReason, &cancelRole, &cancelActor,
		&m.ScheduledFor, &m.CreatedAt, &m.UpdatedAt, &m.AcceptedAt, &m.ArrivedPickupAt, &m.PickedUpAt,
		&m.InTransitAt, &m.ArrivedDeliveryAt, &m.DeliveredAt, &m.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMoveNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		m.DriverID = &d
	}
	if payRef != nil {
		m.Payment.Reference = *payRef
	}
	if payURL != nil {
		m.Payment.URL = *payURL
	}
	cur := m.Pricing.Total.Currency
	m.Pricing.Base.Currency = cur
	m.Pricing.Distance.Currency = cur
	if cancelRole != nil && m.CancelledAt != nil {
		m.Cancellation = &Cancellation{Role: Role(*cancelRole), At: *m.CancelledAt}
		if cancelReason != nil {
			m.Cancellation.Reason = *cancelReason
		}
		if cancelActor != nil {
			m.Cancellation.ActorID = types.ID(*cancelActor)
		}
	}
	return &m, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
