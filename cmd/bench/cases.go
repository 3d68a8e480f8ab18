// README: Benchmark cases for the order lifecycle; includes HTTP, DB, Redis, race and throughput checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"quickcart/internal/modules/notify"
	"quickcart/internal/realtime"
	"quickcart/internal/types"
)

const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusPending = "PENDING"
	StatusSkip    = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// delivered is the order driven to DELIVERED by the happy path case; later cases inspect it.
	delivered string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

type orderView struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusVersion int    `json:"statusVersion"`
}

type errorView struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

var benchItems = []map[string]any{
	{"productId": "bench-milk", "quantity": 2, "name": "Milk 1L", "unitPrice": map[string]any{"amount": "52.50", "currency": "INR"}},
	{"productId": "bench-bread", "quantity": 1, "name": "Bread", "unitPrice": map[string]any{"amount": "40.00", "currency": "INR"}},
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "status cache reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Seed: bench products",
			Focus: "catalogue rows used by checkout",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				_, err := r.db.Exec(ctx, `
					INSERT INTO products (id, name, price, currency) VALUES
						('bench-milk', 'Milk 1L', 52.50, 'INR'),
						('bench-bread', 'Bread', 40.00, 'INR')
					ON CONFLICT (id) DO UPDATE SET active = TRUE`)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "API: health",
			Focus: "server reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				code, _, err := r.do(ctx, http.MethodGet, "/health", nil, nil)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return expectStatus(code, time.Since(start), http.StatusOK)
			},
		},

		// Checkout
		{
			Name:  "Checkout: valid order",
			Focus: "POST /api/orders",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				o, code, err := r.createOrder(ctx, "")
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				res := expectStatus(code, time.Since(start), http.StatusCreated)
				if res.Status == StatusPass && o.Status != "PENDING_ADMIN_DECISION" {
					return Result{Status: StatusFail, Note: "initial status " + o.Status}
				}
				return res
			},
		},
		{
			Name:  "Checkout: missing fields -> 400",
			Focus: "input validation",
			Run: func(ctx context.Context, r *Runner) Result {
				code, _, err := r.do(ctx, http.MethodPost, "/api/orders", map[string]any{}, nil)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return expectStatus(code, 0, http.StatusBadRequest)
			},
		},
		{
			Name:  "Checkout: repeated idempotency key",
			Focus: "Idempotency-Key returns the original order",
			Run: func(ctx context.Context, r *Runner) Result {
				key := uuid.NewString()
				a, _, err := r.createOrder(ctx, key)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				b, _, err := r.createOrder(ctx, key)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if a.ID != b.ID {
					return Result{Status: StatusPending, Note: "server runs without an idempotency store"}
				}
				return Result{Status: StatusPass}
			},
		},

		// Lifecycle
		{
			Name:  "Lifecycle: accept through delivered",
			Focus: "every forward edge succeeds and bumps statusVersion",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				o, _, err := r.createOrder(ctx, "")
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if code, _, err := r.do(ctx, http.MethodPost, "/api/orders/"+o.ID+"/accept", nil, nil); err != nil || code != http.StatusOK {
					return Result{Status: StatusFail, Note: fmt.Sprintf("accept status=%d err=%v", code, err)}
				}
				var last orderView
				for _, s := range []string{"PREPARING", "READY_FOR_DELIVERY", "OUT_FOR_DELIVERY", "DELIVERED"} {
					code, body, err := r.do(ctx, http.MethodPatch, "/api/orders/"+o.ID+"/status", map[string]any{"status": s}, nil)
					if err != nil || code != http.StatusOK {
						return Result{Status: StatusFail, Note: fmt.Sprintf("%s status=%d err=%v", s, code, err)}
					}
					_ = json.Unmarshal(body, &last)
				}
				if last.Status != "DELIVERED" || last.StatusVersion != 5 {
					return Result{Status: StatusFail, Note: fmt.Sprintf("ended at %s v%d", last.Status, last.StatusVersion)}
				}
				r.delivered = o.ID
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},
		{
			Name:  "Lifecycle: cancel after delivered -> 409",
			Focus: "terminal statuses never change",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.delivered == "" {
					return Result{Status: StatusSkip, Note: "no delivered order"}
				}
				return r.expectError(ctx, http.MethodPost, "/api/orders/"+r.delivered+"/cancel", nil, http.StatusConflict, "invalid_transition")
			},
		},
		{
			Name:  "Lifecycle: reject without reason -> 400",
			Focus: "reason required before the validator",
			Run: func(ctx context.Context, r *Runner) Result {
				o, _, err := r.createOrder(ctx, "")
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return r.expectError(ctx, http.MethodPost, "/api/orders/"+o.ID+"/reject", map[string]any{"reason": ""}, http.StatusBadRequest, "bad_request")
			},
		},
		{
			Name:  "Lifecycle: reject then accept -> 409",
			Focus: "rejected orders stay rejected",
			Run: func(ctx context.Context, r *Runner) Result {
				o, _, err := r.createOrder(ctx, "")
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				code, _, err := r.do(ctx, http.MethodPost, "/api/orders/"+o.ID+"/reject", map[string]any{"reason": "Out of stock"}, nil)
				if err != nil || code != http.StatusOK {
					return Result{Status: StatusFail, Note: fmt.Sprintf("reject status=%d err=%v", code, err)}
				}
				return r.expectError(ctx, http.MethodPost, "/api/orders/"+o.ID+"/accept", nil, http.StatusConflict, "invalid_transition")
			},
		},
		{
			Name:  "Race: concurrent accept vs reject",
			Focus: "exactly one transition from the same status wins",
			Run:   concurrentDecision,
		},

		{
			Name:  "Realtime: accept is pushed to the order room",
			Focus: "join_order_room then order_status_update",
			Run:   pushOnAccept,
		},

		// Storage
		{
			Name:  "DB: audit trail for delivered order",
			Focus: "one event per committed change",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil || r.delivered == "" {
					return Result{Status: StatusSkip, Note: "db or delivered order missing"}
				}
				var n int
				if err := r.db.QueryRow(ctx, "SELECT count(*) FROM order_state_events WHERE order_id=$1", r.delivered).Scan(&n); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if n != 6 {
					return Result{Status: StatusFail, Note: fmt.Sprintf("events=%d", n)}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Redis: status cache written through",
			Focus: "order_status:{id} holds the latest version",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil || r.delivered == "" {
					return Result{Status: StatusSkip, Note: "redis or delivered order missing"}
				}
				raw, err := r.redis.Get(ctx, "order_status:"+r.delivered).Result()
				if errors.Is(err, redis.Nil) {
					return Result{Status: StatusPending, Note: "no cached status (TTL expired or cache disabled)"}
				}
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				var snap struct {
					Status        string `json:"status"`
					StatusVersion int    `json:"statusVersion"`
				}
				if err := json.Unmarshal([]byte(raw), &snap); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if snap.Status != "DELIVERED" || snap.StatusVersion != 5 {
					return Result{Status: StatusFail, Note: fmt.Sprintf("cached %s v%d", snap.Status, snap.StatusVersion)}
				}
				return Result{Status: StatusPass}
			},
		},

		// Performance
		{
			Name:  "Perf: checkout throughput",
			Focus: "create orders",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPost, "/api/orders", checkoutPayload())
			},
		},
		{
			Name:  "Perf: status read throughput",
			Focus: "GET /api/orders/{id}/status",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.delivered == "" {
					return Result{Status: StatusSkip, Note: "no delivered order"}
				}
				return perfLoad(ctx, r, http.MethodGet, "/api/orders/"+r.delivered+"/status", nil)
			},
		},
	}
}

func checkoutPayload() map[string]any {
	return map[string]any{
		"userId": "bench-user",
		"items":  benchItems,
		"deliveryAddress": map[string]any{
			"line1": "12 MG Road", "city": "Bengaluru", "postalCode": "560001",
		},
	}
}

func (r *Runner) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func (r *Runner) createOrder(ctx context.Context, idemKey string) (orderView, int, error) {
	var hdr map[string]string
	if idemKey != "" {
		hdr = map[string]string{"Idempotency-Key": idemKey}
	}
	code, body, err := r.do(ctx, http.MethodPost, "/api/orders", checkoutPayload(), hdr)
	if err != nil {
		return orderView{}, code, err
	}
	if code != http.StatusCreated {
		return orderView{}, code, fmt.Errorf("checkout status=%d body=%s", code, body)
	}
	var o orderView
	if err := json.Unmarshal(body, &o); err != nil {
		return orderView{}, code, err
	}
	return o, code, nil
}

func (r *Runner) expectError(ctx context.Context, method, path string, body any, wantStatus int, wantCode string) Result {
	start := time.Now()
	code, raw, err := r.do(ctx, method, path, body, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if code != wantStatus {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", code)}
	}
	var e errorView
	if err := json.Unmarshal(raw, &e); err != nil || e.Code != wantCode {
		return Result{Status: StatusFail, Note: "error body " + string(raw)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("status=%d code=%s", code, e.Code)}
}

func expectStatus(code int, latency time.Duration, want int) Result {
	note := fmt.Sprintf("status=%d", code)
	if code == want {
		return Result{Status: StatusPass, Latency: latency, Note: note}
	}
	if code == http.StatusNotFound || code == http.StatusNotImplemented {
		return Result{Status: StatusPending, Latency: latency, Note: note}
	}
	return Result{Status: StatusFail, Latency: latency, Note: note}
}

// concurrentDecision fires accepts and rejects at one fresh order. Exactly one may win;
// the rest must see a 409.
func concurrentDecision(ctx context.Context, r *Runner) Result {
	o, _, err := r.createOrder(ctx, "")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	var succ, conflict, other atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		action, body := "/accept", any(nil)
		if i%2 == 1 {
			action, body = "/reject", map[string]any{"reason": "Out of stock"}
		}
		g.Go(func() error {
			code, _, err := r.do(gctx, http.MethodPost, "/api/orders/"+o.ID+action, body, nil)
			if err != nil {
				return err
			}
			switch {
			case code == http.StatusOK:
				succ.Add(1)
			case code == http.StatusConflict:
				conflict.Add(1)
			default:
				other.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ.Load(), conflict.Load(), other.Load())
	if succ.Load() == 1 && other.Load() == 0 {
		return Result{Status: StatusPass, Latency: time.Since(start), Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

// pushOnAccept joins a fresh order's room over /ws, accepts the order over HTTP and waits for the push.
func pushOnAccept(ctx context.Context, r *Runner) Result {
	o, _, err := r.createOrder(ctx, "")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	wsURL := "ws" + strings.TrimPrefix(r.cfg.BaseURL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer ws.Close()

	join, err := realtime.EncodeFrame(realtime.EventJoinOrderRoom, realtime.RoomRequest{OrderID: types.ID(o.ID)})
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if err := awaitFrame(ws, func(f realtime.Frame) bool { return f.Event == realtime.EventRoomJoined }); err != nil {
		return Result{Status: StatusFail, Note: "join: " + err.Error()}
	}

	start := time.Now()
	if code, _, err := r.do(ctx, http.MethodPost, "/api/orders/"+o.ID+"/accept", nil, nil); err != nil || code != http.StatusOK {
		return Result{Status: StatusFail, Note: fmt.Sprintf("accept status=%d err=%v", code, err)}
	}
	err = awaitFrame(ws, func(f realtime.Frame) bool {
		if f.Event != realtime.EventOrderStatusUpdate {
			return false
		}
		var ev notify.Event
		return json.Unmarshal(f.Data, &ev) == nil && ev.Status == "ADMIN_ACCEPTED"
	})
	if err != nil {
		return Result{Status: StatusFail, Note: "push: " + err.Error()}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func awaitFrame(ws *websocket.Conn, match func(realtime.Frame) bool) error {
	if err := ws.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	for {
		var f realtime.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return err
		}
		if match(f) {
			return nil
		}
	}
}

func perfLoad(ctx context.Context, r *Runner, method, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for time.Now().Before(end) && gctx.Err() == nil {
				code, _, err := r.do(gctx, method, path, payload, nil)
				if err != nil || code >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
