// README: Dispatch engine owns the move lifecycle: creation, solicitation, acceptance, progress and cancellation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"movedispatch/internal/config"
	"movedispatch/internal/maps"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/modules/notify"
	"movedispatch/internal/observability"
	"movedispatch/internal/types"
)

type Config struct {
	OfferTimeout       time.Duration
	MaxAttempts        int
	SearchRadiusMeters float64
	ScheduleGrace      time.Duration
	RetryDelay         time.Duration
	SweepInterval      time.Duration
	StaleAfter         time.Duration
	// OpTimeout bounds work started by timers and the sweep.
	OpTimeout time.Duration
}

func ConfigFrom(c config.DispatchConfig) Config {
	return Config{
		OfferTimeout:       c.OfferTimeout,
		MaxAttempts:        c.MaxAttempts,
		SearchRadiusMeters: c.SearchRadiusMeters,
		ScheduleGrace:      c.ScheduleGrace,
		RetryDelay:         c.RetryDelay,
		SweepInterval:      c.SweepInterval,
		StaleAfter:         c.StaleAfter,
		OpTimeout:          c.OpTimeout,
	}
}

type Deps struct {
	Moves    move.Store
	Drivers  Drivers
	Matcher  Matcher
	Pricer   Pricer
	Payments Payments
	// Router estimates driver ETA at accept; optional.
	Router   maps.Router
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Log      zerolog.Logger
}

type Engine struct {
	moves    move.Store
	drivers  Drivers
	matcher  Matcher
	pricer   Pricer
	payments Payments
	router   maps.Router
	notifier notify.Notifier
	metrics  *observability.Metrics
	log      zerolog.Logger
	cfg      Config
	book     *offerBook
	now      func() time.Time
}

func NewEngine(d Deps, cfg Config) *Engine {
	n := d.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	return &Engine{
		moves:    d.Moves,
		drivers:  d.Drivers,
		matcher:  d.Matcher,
		pricer:   d.Pricer,
		payments: d.Payments,
		router:   d.Router,
		notifier: n,
		metrics:  d.Metrics,
		log:      d.Log.With().Str("component", "dispatch").Logger(),
		cfg:      cfg,
		book:     newOfferBook(),
		now:      time.Now,
	}
}

type CreateCommand struct {
	CustomerID    types.ID
	Pickup        types.Location
	Delivery      types.Location
	VehicleClass  string
	Items         []move.Item
	ScheduledFor  *time.Time
	PaymentMethod move.PaymentMethod
}

// Create prices and persists a PENDING move, then starts solicitation unless
// the move is scheduled beyond the grace window. The returned move reflects
// the first solicitation attempt.
func (e *Engine) Create(ctx context.Context, cmd CreateCommand) (*move.Move, error) {
	if err := validateCreate(&cmd); err != nil {
		return nil, err
	}
	active, err := e.moves.HasActiveByCustomer(ctx, cmd.CustomerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, move.ErrActiveMove
	}

	pricing, err := e.pricer.Price(ctx, cmd.Pickup.Point, cmd.Delivery.Point, cmd.VehicleClass)
	if err != nil {
		if !errors.Is(err, move.ErrValidation) && !errors.Is(err, move.ErrUpstream) {
			err = fmt.Errorf("%w: pricing: %v", move.ErrUpstream, err)
		}
		return nil, err
	}

	now := e.now().UTC()
	m := &move.Move{
		ID:           types.ID(uuid.NewString()),
		CustomerID:   cmd.CustomerID,
		Status:       move.StatusPending,
		Pickup:       cmd.Pickup,
		Delivery:     cmd.Delivery,
		VehicleClass: cmd.VehicleClass,
		Items:        cmd.Items,
		Pricing:      pricing,
		Payment:      move.Payment{Method: cmd.PaymentMethod, Status: move.PaymentPending},
		ScheduledFor: cmd.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.moves.Create(ctx, m); err != nil {
		return nil, err
	}
	e.metrics.Transition(string(move.StatusPending))
	e.log.Info().Str("move_id", string(m.ID)).Str("customer_id", string(m.CustomerID)).Msg("move created")

	if m.ScheduledFor != nil && m.ScheduledFor.After(now.Add(e.cfg.ScheduleGrace)) {
		return m, nil
	}

	// Solicitation outlives the request that created the move.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OpTimeout)
	defer cancel()
	if _, err := e.matcher.ClaimLease(sctx, m.ID, e.leaseTTL()); err != nil {
		e.log.Warn().Err(err).Str("move_id", string(m.ID)).Msg("claim lease")
	}
	e.solicit(sctx, m, nil, 1)

	if latest, err := e.moves.Get(sctx, m.ID); err == nil {
		return latest, nil
	}
	return m, nil
}

func validateCreate(cmd *CreateCommand) error {
	var problems []string
	if cmd.CustomerID == "" {
		problems = append(problems, "customer id is required")
	}
	cmd.VehicleClass = strings.TrimSpace(cmd.VehicleClass)
	if cmd.VehicleClass == "" {
		problems = append(problems, "vehicle class is required")
	}
	if !cmd.Pickup.Point.Valid() {
		problems = append(problems, "pickup coordinates out of range")
	}
	if !cmd.Delivery.Point.Valid() {
		problems = append(problems, "delivery coordinates out of range")
	}
	switch cmd.PaymentMethod {
	case "":
		cmd.PaymentMethod = move.PaymentCash
	case move.PaymentCash, move.PaymentCard:
	default:
		problems = append(problems, fmt.Sprintf("unknown payment method %q", cmd.PaymentMethod))
	}
	for _, it := range cmd.Items {
		if it.Quantity < 0 {
			problems = append(problems, "item quantity must not be negative")
			break
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", move.ErrValidation, strings.Join(problems, "; "))
	}
	if cmd.Items == nil {
		cmd.Items = []move.Item{}
	}
	return nil
}

// leaseTTL covers one offer window plus a retry delay.
func (e *Engine) leaseTTL() time.Duration {
	return 2*e.cfg.OfferTimeout + e.cfg.RetryDelay
}

func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.OpTimeout)
}

func (e *Engine) notify(ctx context.Context, userID types.ID, event string, payload any) {
	if userID == "" {
		return
	}
	e.notifier.Notify(ctx, userID, event, payload)
}

// Close stops every pending offer timer.
func (e *Engine) Close() {
	e.book.clear()
	e.metrics.ActiveRounds(0)
}
