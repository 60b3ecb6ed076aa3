// README: Bench cases; HTTP flow, concurrent accept, DB/Redis and location throughput checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"movedispatch/internal/config"
	"movedispatch/internal/infra"
	"movedispatch/internal/migrations"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

var (
	benchPickup   = map[string]any{"address": "1 Pickup St", "lat": 25.033, "lng": 121.565}
	benchDelivery = map[string]any{"address": "9 Delivery Rd", "lat": 25.0478, "lng": 121.5318}
)

type Runner struct {
	cfg   benchConfig
	app   config.Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	moveID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg benchConfig, app config.Config) *Runner {
	return &Runner{
		cfg:   cfg,
		app:   app,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if db, err := infra.NewDB(ctx, r.app.DB.DSN); err == nil {
		r.db = db
		defer db.Close()
	}
	if rdb, err := infra.NewRedis(ctx, r.app.Redis); err == nil {
		r.redis = rdb
		defer rdb.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db unreachable"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusFail, Note: "redis unreachable"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
		}},
		{Name: "API: unauthenticated move create -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/moves", "", map[string]any{}, http.StatusUnauthorized)
		}},

		{Name: "Driver: register", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.DriverToken == "" {
				return skip("no --driver-token")
			}
			return r.expect(ctx, http.MethodPost, "/api/drivers/me", r.cfg.DriverToken, map[string]any{
				"name": "Bench Driver", "vehicle_class": r.cfg.VehicleClass,
			}, http.StatusOK)
		}},
		{Name: "Admin: approve driver", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.AdminToken == "" || r.cfg.DriverID == "" {
				return skip("no --admin-token or --driver-id")
			}
			return r.expect(ctx, http.MethodPost, "/api/admin/drivers/"+r.cfg.DriverID+"/approval", r.cfg.AdminToken,
				map[string]any{"approved": true}, http.StatusOK)
		}},
		{Name: "Driver: go available near pickup", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.DriverToken == "" {
				return skip("no --driver-token")
			}
			return r.expect(ctx, http.MethodPut, "/api/drivers/me/availability", r.cfg.DriverToken, map[string]any{
				"available": true, "lat": 25.034, "lng": 121.565,
			}, http.StatusOK)
		}},

		{Name: "Move: create (missing fields -> 400)", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.CustomerToken == "" {
				return skip("no --customer-token")
			}
			return r.expect(ctx, http.MethodPost, "/api/moves", r.cfg.CustomerToken, map[string]any{}, http.StatusBadRequest)
		}},
		{Name: "Move: create", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.CustomerToken == "" {
				return skip("no --customer-token")
			}
			status, body, latency, err := r.do(ctx, http.MethodPost, "/api/moves", r.cfg.CustomerToken, r.moveBody())
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if status != http.StatusCreated {
				return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			r.moveID, _ = body["id"].(string)
			return Result{Status: statusPass, Latency: latency, Note: "move=" + r.moveID}
		}},
		{Name: "Move: second active move -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if r.moveID == "" {
				return skip("no move created")
			}
			return r.expect(ctx, http.MethodPost, "/api/moves", r.cfg.CustomerToken, r.moveBody(), http.StatusConflict)
		}},
		{Name: "Concurrency: parallel accepts, one winner", Run: concurrentAccept},
		{Name: "Move: advance to delivered", Run: func(ctx context.Context, r *Runner) Result {
			if r.moveID == "" || r.cfg.DriverToken == "" {
				return skip("no accepted move")
			}
			var total time.Duration
			for _, s := range []string{"arrived_at_pickup", "picked_up", "in_transit", "arrived_at_delivery", "delivered"} {
				res := r.expect(ctx, http.MethodPost, "/api/drivers/moves/"+r.moveID+"/status", r.cfg.DriverToken,
					map[string]any{"status": s}, http.StatusOK)
				total += res.Latency
				if res.Status != statusPass {
					res.Note = s + ": " + res.Note
					return res
				}
			}
			return Result{Status: statusPass, Latency: total}
		}},
		{Name: "Move: delivered cannot be cancelled -> 422", Run: func(ctx context.Context, r *Runner) Result {
			if r.moveID == "" {
				return skip("no move created")
			}
			return r.expect(ctx, http.MethodPost, "/api/moves/"+r.moveID+"/cancel", r.cfg.CustomerToken, nil, http.StatusUnprocessableEntity)
		}},

		{Name: "Location: invalid coords -> 400", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.DriverToken == "" || r.cfg.DriverID == "" {
				return skip("no --driver-token or --driver-id")
			}
			return r.expect(ctx, http.MethodPut, "/api/drivers/"+r.cfg.DriverID+"/location", r.cfg.DriverToken,
				map[string]any{"lat": 123.0, "lng": 456.0}, http.StatusBadRequest)
		}},
		{Name: "Perf: location update throughput", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.DriverToken == "" || r.cfg.DriverID == "" {
				return skip("no --driver-token or --driver-id")
			}
			return perfLoad(ctx, r, "/api/drivers/"+r.cfg.DriverID+"/location", map[string]any{"lat": 25.034, "lng": 121.565})
		}},
	}
}

func (r *Runner) moveBody() map[string]any {
	return map[string]any{
		"pickup":         benchPickup,
		"delivery":       benchDelivery,
		"vehicle_class":  r.cfg.VehicleClass,
		"items":          []map[string]any{{"name": "box", "quantity": 3}},
		"payment_method": "cash",
	}
}

func skip(note string) Result {
	return Result{Status: statusSkip, Note: note}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db unreachable"}
	}
	tables, err := migrations.Tables()
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, map[string]any, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, time.Since(start), nil
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	status, _, latency, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.moveID == "" || r.cfg.DriverToken == "" {
		return skip("no move or --driver-token")
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		succ int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _, err := r.do(ctx, http.MethodPost, "/api/drivers/moves/"+r.moveID+"/accept", r.cfg.DriverToken, nil)
			if err != nil {
				return
			}
			if status == http.StatusOK {
				mu.Lock()
				succ++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succ == 1 {
		return Result{Status: statusPass, Note: "success=1"}
	}
	return Result{Status: statusFail, Note: fmt.Sprintf("success=%d", succ)}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		count    int64
		errCount int64
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.do(ctx, http.MethodPut, path, r.cfg.DriverToken, payload)
				mu.Lock()
				if err != nil || status >= 300 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}
