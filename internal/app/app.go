// README: Composition root; builds stores, collaborators and the dispatch engine from config.
package app

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"movedispatch/internal/config"
	httptransport "movedispatch/internal/http"
	"movedispatch/internal/http/handlers"
	"movedispatch/internal/infra"
	"movedispatch/internal/maps"
	"movedispatch/internal/migrations"
	"movedispatch/internal/modules/dispatch"
	"movedispatch/internal/modules/driver"
	"movedispatch/internal/modules/location"
	"movedispatch/internal/modules/matching"
	"movedispatch/internal/modules/move"
	"movedispatch/internal/modules/notify"
	"movedispatch/internal/modules/payment"
	"movedispatch/internal/modules/pricing"
	"movedispatch/internal/observability"
	"movedispatch/internal/storage/memory"
)

type Options struct {
	// InMemory replaces Postgres and Redis with process-local stores.
	InMemory bool
	// Registerer receives the metrics; nil means a private registry.
	Registerer prometheus.Registerer
}

type App struct {
	cfg      config.Config
	log      zerolog.Logger
	Engine   *dispatch.Engine
	Drivers  *driver.Service
	Location *location.Service
	Hub      *notify.Hub
	Metrics  *observability.Metrics

	geocoder handlers.Geocoder
	firebase *firebase.App
	closers  []func() error
}

type storage struct {
	moves     move.Store
	drivers   driver.Store
	snapshots location.Store
	geo       *matching.Service
	rates     pricing.RateStore
	ledger    payment.Ledger
}

// New wires every collaborator. Call Close when done, also on error paths
// after New returned successfully.
func New(ctx context.Context, cfg config.Config, opts Options, log zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	st, err := a.openStorage(ctx, opts.InMemory)
	if err != nil {
		a.Close()
		return nil, err
	}

	metrics, err := observability.New(opts.Registerer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.Metrics = metrics

	if cfg.Firebase.ProjectID != "" {
		fb, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.firebase = fb
	}

	notifier, err := a.notifiers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Pricing must see route failures; ETA estimates degrade to straight line.
	var pricingRouter maps.Router = maps.NewStraightLine()
	var etaRouter maps.Router = maps.NewStraightLine()
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		pricingRouter = routes
		etaRouter = maps.Fallback{Primary: routes, Secondary: maps.NewStraightLine()}
		geocoder, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.geocoder = geocoder
	}

	var gateway payment.Gateway = payment.OfflineGateway{BaseURL: cfg.HTTP.PublicURL}
	if cfg.Stripe.SecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL)
	}

	a.Drivers = driver.NewService(st.drivers, st.geo, log)
	a.Location = location.NewService(st.drivers, st.snapshots, st.geo, log)
	a.Engine = dispatch.NewEngine(dispatch.Deps{
		Moves:    st.moves,
		Drivers:  st.drivers,
		Matcher:  st.geo,
		Pricer:   pricing.NewService(st.rates, pricingRouter, cfg.Dispatch.Currency),
		Payments: payment.NewService(st.ledger, gateway),
		Router:   etaRouter,
		Notifier: notifier,
		Metrics:  metrics,
		Log:      log,
	}, dispatch.ConfigFrom(cfg.Dispatch))
	a.closers = append(a.closers, func() error {
		a.Engine.Close()
		return nil
	})
	return a, nil
}

func (a *App) openStorage(ctx context.Context, inMemory bool) (storage, error) {
	if inMemory {
		a.log.Warn().Msg("running with in-memory storage; state is lost on exit")
		mem := memory.New()
		geo := matching.NewMemoryStore()
		return storage{
			moves:     mem,
			drivers:   mem,
			snapshots: mem,
			geo:       matching.NewService(geo, geo),
			rates:     pricing.StaticRates{},
			ledger:    payment.NewMemoryLedger(),
		}, nil
	}

	db, err := infra.NewDB(ctx, a.cfg.DB.DSN)
	if err != nil {
		return storage{}, err
	}
	a.closers = append(a.closers, func() error {
		db.Close()
		return nil
	})
	if a.cfg.DB.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			return storage{}, err
		}
	}
	rdb, err := infra.NewRedis(ctx, a.cfg.Redis)
	if err != nil {
		return storage{}, err
	}
	a.closers = append(a.closers, rdb.Close)
	geo := matching.NewRedisStore(rdb)
	return storage{
		moves:     move.NewPGStore(db),
		drivers:   driver.NewPGStore(db),
		snapshots: location.NewPGStore(db),
		geo:       matching.NewService(geo, geo),
		rates:     pricing.NewStore(db),
		ledger:    payment.NewPGLedger(db),
	}, nil
}

// notifiers fans out to websocket clients plus the optional Kafka stream and
// FCM push. The logging notifier keeps a trace of every event.
func (a *App) notifiers(ctx context.Context) (notify.Notifier, error) {
	a.Hub = notify.NewHub(a.log)
	fan := notify.Fanout{a.Hub, notify.Logging{Log: a.log}}
	if len(a.cfg.Kafka.Brokers) > 0 {
		pub := notify.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.log)
		a.closers = append(a.closers, pub.Close)
		fan = append(fan, pub)
	}
	if a.cfg.Firebase.Push {
		if a.firebase == nil {
			return nil, errors.New("firebase.push requires firebase.projectId")
		}
		client, err := infra.NewMessagingClient(ctx, a.firebase)
		if err != nil {
			return nil, err
		}
		fan = append(fan, notify.NewPush(client, a.log))
	}
	return fan, nil
}

// Server builds the HTTP surface. Token verification needs Firebase.
func (a *App) Server(ctx context.Context) (*httptransport.Server, error) {
	if a.firebase == nil {
		return nil, errors.New("firebase.projectId is required to serve the API")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, a.firebase)
	if err != nil {
		return nil, err
	}
	deps := httptransport.ServerDeps{
		Engine:        a.Engine,
		Drivers:       a.Drivers,
		Location:      a.Location,
		Hub:           a.Hub,
		Geocoder:      a.geocoder,
		Verifier:      verifier,
		WebhookSecret: a.cfg.Stripe.WebhookSecret,
		Log:           a.log,
	}
	if a.cfg.Metrics.Enabled {
		deps.Metrics = a.Metrics
		deps.MetricsPath = a.cfg.Metrics.Path
	}
	return httptransport.NewServer(a.cfg.HTTP.Addr, httptransport.NewRouter(deps), a.cfg.HTTP.ShutdownTimeout, a.log), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
