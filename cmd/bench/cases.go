// README: Bench cases: environment, request API, generation, concurrent accept and DB invariants.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	statusPass    = "PASS"
	statusFail    = "FAIL"
	statusPending = "PENDING"
	statusSkip    = "SKIP"
)

const benchRegion = "BenchRegion"

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// flow state shared by consecutive cases
	requestID string
	matchIDs  []string
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
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "lock and cache backend reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusFail, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL when asked",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: statusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables declared in the migration are present",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
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
			},
		},
		{
			Name:  "Seed: bench drivers",
			Focus: "insert available truck drivers in the bench region",
			Run:   seedDrivers,
		},
		httpCase("API: health", http.MethodGet, base+"/health", nil, []int{200}),

		{
			Name:  "Request: create (valid -> 202)",
			Focus: "creation answers before generation finishes",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				code, body, err := r.do(ctx, http.MethodPost, base+"/api/requests", benchRequest())
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				if code != http.StatusAccepted {
					return Result{Status: statusFail, Note: fmt.Sprintf("status=%d", code)}
				}
				var out struct {
					RequestID string `json:"request_id"`
				}
				if err := json.Unmarshal(body, &out); err != nil || out.RequestID == "" {
					return Result{Status: statusFail, Note: "missing request_id"}
				}
				r.requestID = out.RequestID
				return Result{Status: statusPass, Latency: time.Since(start), Note: "id=" + out.RequestID}
			},
		},
		httpCase("Request: create (inverted budget -> 400)", http.MethodPost, base+"/api/requests", map[string]any{
			"company_id":   "bench-company",
			"pickup":       map[string]any{"region": benchRegion},
			"vehicle_type": "truck",
			"budget_min":   "80000",
			"budget_max":   "50000",
		}, []int{400}),
		httpCase("Request: get unknown (-> 404)", http.MethodGet, base+"/api/requests/"+uuid.NewString(), nil, []int{404}),
		httpCase("Request: get malformed id (-> 400)", http.MethodGet, base+"/api/requests/nope", nil, []int{400}),

		{
			Name:  "Matching: recompute is idempotent",
			Focus: "two recomputes return the same match ids",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.requestID == "" {
					return Result{Status: statusSkip, Note: "no request"}
				}
				url := base + "/api/requests/" + r.requestID + "/matches/recompute"
				first, err := r.recompute(ctx, url)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				second, err := r.recompute(ctx, url)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				if strings.Join(first, ",") != strings.Join(second, ",") {
					return Result{Status: statusFail, Note: "match ids changed between runs"}
				}
				if len(first) == 0 {
					return Result{Status: statusPending, Note: "no eligible drivers"}
				}
				r.matchIDs = first
				return Result{Status: statusPass, Note: fmt.Sprintf("matches=%d", len(first))}
			},
		},
		{
			Name:  "Concurrency: accept every match at once",
			Focus: "exactly one accept wins; the rest answer 409",
			Run: func(ctx context.Context, r *Runner) Result {
				if len(r.matchIDs) < 2 {
					return Result{Status: statusSkip, Note: "need at least two matches"}
				}
				return concurrentAccept(ctx, r, base)
			},
		},
		{
			Name:  "DB: single accepted match and active request",
			Focus: "post-commit invariants hold in storage",
			Run:   checkCommitted,
		},
		{
			Name:  "Perf: create request throughput",
			Focus: "sustained request creation",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, base+"/api/requests", benchRequest())
			},
		},
	}
}

func benchRequest() map[string]any {
	return map[string]any{
		"company_id":           "bench-company",
		"pickup":               map[string]any{"region": benchRegion},
		"dropoff":              map[string]any{"region": benchRegion},
		"vehicle_type":         "truck",
		"budget_min":           "50000",
		"budget_max":           "80000",
		"min_experience_years": 2,
	}
}

func seedDrivers(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	for i := 0; i < r.cfg.SeedDrivers; i++ {
		_, err := r.db.Exec(ctx, `
			INSERT INTO drivers (id, name, region, vehicle_types, experience_years, rating, typical_rate, available, last_active_at)
			VALUES ($1, $2, $3, ARRAY['truck'], $4, $5, $6::numeric, true, now())`,
			uuid.NewString(), fmt.Sprintf("bench-driver-%d", i), benchRegion, 2+i%6, 3.5+float64(i%15)/10, fmt.Sprint(55000+i*2500))
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("drivers=%d", r.cfg.SeedDrivers)}
}

func (r *Runner) do(ctx context.Context, method, url string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func (r *Runner) recompute(ctx context.Context, url string) ([]string, error) {
	code, body, err := r.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("status=%d body=%s", code, body)
	}
	var out struct {
		MatchIDs []string `json:"match_ids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.MatchIDs, nil
}

func httpCase(name, method, url string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP status check",
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			code, _, err := r.do(ctx, method, url, body)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			latency := time.Since(start)
			if contains(okStatuses, code) {
				return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
			}
			if code == http.StatusNotImplemented {
				return Result{Status: statusPending, Latency: latency, Note: "not implemented"}
			}
			return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
		},
	}
}

func concurrentAccept(ctx context.Context, r *Runner, base string) Result {
	var mu sync.Mutex
	succ, conflict, other := 0, 0, 0
	wg := sync.WaitGroup{}
	start := make(chan struct{})

	for i, id := range r.matchIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			code, _, err := r.do(ctx, http.MethodPost, base+"/api/matches/"+id+"/accept", map[string]any{
				"agreed_rate": fmt.Sprint(60000 + i*100),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other++
			case code == http.StatusOK:
				succ++
			case code == http.StatusConflict:
				conflict++
			default:
				other++
			}
		}(i, id)
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ, conflict, other)
	if succ == 1 && conflict+other == len(r.matchIDs)-1 {
		return Result{Status: statusPass, Note: note}
	}
	return Result{Status: statusFail, Note: note}
}

func checkCommitted(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.requestID == "" || len(r.matchIDs) < 2 {
		return Result{Status: statusSkip, Note: "flow did not reach commit"}
	}
	var status string
	var accepted, open int
	err := r.db.QueryRow(ctx, `
		SELECT r.status,
		       count(*) FILTER (WHERE m.status = 'accepted'),
		       count(*) FILTER (WHERE m.status IN ('proposed', 'negotiating'))
		FROM requests r LEFT JOIN matches m ON m.request_id = r.id
		WHERE r.id = $1
		GROUP BY r.status`, r.requestID).Scan(&status, &accepted, &open)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("request=%s accepted=%d open=%d", status, accepted, open)
	if status != "active" || accepted != 1 || open != 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, url string, payload any) Result {
	b, _ := json.Marshal(payload)
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				count++
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

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
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
