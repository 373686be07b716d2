// README: Postgres-backed concurrency tests for commitment (run with -race).
package matching

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightmatch/internal/config"
	"freightmatch/internal/infra"
	"freightmatch/internal/lock"
	"freightmatch/internal/modules/candidate"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/modules/scoring"
	"freightmatch/internal/types"
)

// noLock leaves exclusion to the request row lock.
type noLock struct{}

func (noLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

var _ lock.Locker = noLock{}

type pgFixture struct {
	requests *request.PGStore
	matches  *PGStore
	billing  *recordingBilling
	svc      *Service
	gen      *Generator
	db       *pgxpool.Pool
}

func setupPG(t *testing.T) *pgFixture {
	t.Helper()

	dsn := os.Getenv("FREIGHT_TEST_DSN")
	if dsn == "" {
		t.Skip("FREIGHT_TEST_DSN not set; skipping DB-backed race tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE match_events, matches, requests, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	f := &pgFixture{
		requests: request.NewPGStore(db, 2*time.Second),
		matches:  NewPGStore(db),
		billing:  &recordingBilling{},
		db:       db,
	}
	cfg := testConfig()
	deps := Deps{
		Requests: f.requests,
		Matches:  f.matches,
		Pool:     candidate.NewPGProvider(db),
		Engine:   scoring.NewEngine(config.DefaultScoring()),
		Locker:   noLock{},
		UoW:      infra.NewUnitOfWork(db),
		Billing:  f.billing,
		Config:   cfg,
		Logger:   zap.NewNop(),
	}
	f.gen = NewGenerator(deps)
	f.svc = NewService(deps, NewCoordinator(deps))
	return f
}

func (f *pgFixture) createRequest(t *testing.T) *request.Request {
	t.Helper()
	now := time.Now().UTC()
	r := &request.Request{
		ID:                 types.NewID(),
		CompanyID:          "company-race",
		Pickup:             types.Location{Region: "Lagos"},
		VehicleType:        "truck",
		BudgetMin:          amount(50000),
		BudgetMax:          amount(80000),
		MinExperienceYears: 2,
		Urgency:            request.UrgencyMedium,
		Status:             request.StatusPending,
		MatchingState:      request.MatchingQueued,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := f.requests.Create(context.Background(), r); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

func (f *pgFixture) insertDriver(t *testing.T, id string, vehicle string, exp int, rating float64) {
	t.Helper()
	_, err := f.db.Exec(context.Background(), `
		INSERT INTO drivers (id, name, region, vehicle_types, experience_years, rating, typical_rate, available, last_active_at)
		VALUES ($1, $1, 'Lagos', ARRAY[$2::text], $3, $4, 70000, true, now())`, id, vehicle, exp, rating)
	if err != nil {
		t.Fatalf("insert driver: %v", err)
	}
}

func TestPG_GenerateIdempotent(t *testing.T) {
	f := setupPG(t)
	ctx := context.Background()
	f.insertDriver(t, "A", "Truck", 5, 4.8)
	f.insertDriver(t, "B", "truck", 1, 4.0)
	f.insertDriver(t, "T", "trailer", 6, 4.1)
	r := f.createRequest(t)

	first, err := f.gen.Generate(ctx, r.ID)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := f.gen.Generate(ctx, r.ID)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if len(first) != 2 || strings.Join(idStrings(first), ",") != strings.Join(idStrings(second), ",") {
		t.Fatalf("expected the same two matches, got %v then %v", first, second)
	}
	var count int
	if err := f.db.QueryRow(ctx, `SELECT count(*) FROM matches WHERE request_id = $1`, string(r.ID)).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
	m, err := f.matches.Get(ctx, first[0])
	if err != nil {
		t.Fatal(err)
	}
	if m.CandidateID != "A" || m.Breakdown.Vehicle != 1 {
		t.Fatalf("expected exact-type A to rank first, got %+v", m)
	}
}

func TestPG_ConcurrentAcceptSingleWinner(t *testing.T) {
	f := setupPG(t)
	ctx := context.Background()
	r := f.createRequest(t)

	const attempts = 8
	ids := make([]types.ID, attempts)
	for i := range ids {
		now := time.Now().UTC()
		id, _, err := f.matches.UpsertProposal(ctx, &Match{
			ID: types.NewID(), RequestID: r.ID, CandidateID: types.ID(fmt.Sprintf("d%d", i)),
			Score: 0.5, Status: StatusProposed, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("seed match: %v", err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, AcceptCommand{MatchID: id, AgreedRate: decimal.NewFromInt(60000)})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrRequestAlreadyCommitted) && !errors.Is(err, ErrLockTimeout) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	var accepted, filled int
	err := f.db.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE status = 'accepted'),
		       count(*) FILTER (WHERE status = 'rejected' AND rejection_reason = $2)
		FROM matches WHERE request_id = $1`, string(r.ID), ReasonRequestFilled).Scan(&accepted, &filled)
	if err != nil {
		t.Fatal(err)
	}
	if accepted != 1 || filled != attempts-1 {
		t.Fatalf("expected 1 accepted and %d filled, got %d/%d", attempts-1, accepted, filled)
	}
	got, err := f.requests.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != request.StatusActive {
		t.Fatalf("expected active request, got %s", got.Status)
	}
	if f.billing.count() != 1 {
		t.Fatalf("expected one billing trigger, got %d", f.billing.count())
	}
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
