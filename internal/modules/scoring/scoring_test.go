// README: Scoring engine unit tests (pure functions, no external dependencies).
package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freightmatch/internal/config"
	"freightmatch/internal/modules/candidate"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/types"
)

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func lagosTruckRequest() *request.Request {
	return &request.Request{
		ID:                 "R",
		Pickup:             types.Location{Region: "Lagos"},
		VehicleType:        "truck",
		BudgetMin:          amount(50000),
		BudgetMax:          amount(80000),
		MinExperienceYears: 2,
		Status:             request.StatusPending,
	}
}

func newEngine() *Engine {
	return NewEngine(config.DefaultScoring())
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScore_ExampleScenario(t *testing.T) {
	e := newEngine()
	r := lagosTruckRequest()
	a := candidate.Candidate{ID: "A", Region: "Lagos", VehicleTypes: []string{"Truck"}, ExperienceYears: 5, Rating: 4.8, TypicalRate: amount(70000), Available: true}
	b := candidate.Candidate{ID: "B", Region: "Ogun", VehicleTypes: []string{"Truck"}, ExperienceYears: 1, Rating: 4.0, TypicalRate: amount(60000), Available: true}
	c := candidate.Candidate{ID: "C", Region: "Lagos", VehicleTypes: []string{"Van"}, ExperienceYears: 10, Available: true}

	ra := e.Score(r, a)
	if !ra.Eligible {
		t.Fatalf("A should be eligible, got %s", ra.Reason)
	}
	want := Breakdown{Location: 1, Vehicle: 1, Experience: 1, Reliability: 0.96, Budget: 1}
	if !near(ra.Breakdown.Location, want.Location) || !near(ra.Breakdown.Vehicle, want.Vehicle) ||
		!near(ra.Breakdown.Experience, want.Experience) || !near(ra.Breakdown.Reliability, want.Reliability) ||
		!near(ra.Breakdown.Budget, want.Budget) {
		t.Fatalf("unexpected breakdown %+v", ra.Breakdown)
	}
	if !near(ra.Total, 0.994) {
		t.Fatalf("expected total 0.994, got %f", ra.Total)
	}

	if rb := e.Score(r, b); rb.Eligible || rb.Reason != ReasonInsufficientExperience || !math.IsInf(rb.Total, -1) {
		t.Fatalf("B should fail experience, got %+v", rb)
	}
	if rc := e.Score(r, c); rc.Eligible || rc.Reason != ReasonVehicleMismatch {
		t.Fatalf("C should fail vehicle, got %+v", rc)
	}

	ranked := Rank([]Result{e.Score(r, c), ra, e.Score(r, b)})
	if len(ranked) != 1 || ranked[0].Candidate.ID != "A" {
		t.Fatalf("expected only A ranked, got %d results", len(ranked))
	}
}

func TestScore_Deterministic(t *testing.T) {
	e := newEngine()
	r := lagosTruckRequest()
	pool := []candidate.Candidate{
		{ID: "a", Region: "Lagos", VehicleTypes: []string{"truck"}, ExperienceYears: 3, Rating: 4.1, TypicalRate: amount(90000), Available: true},
		{ID: "b", Region: "Oyo", VehicleTypes: []string{"trailer"}, ExperienceYears: 8, Rating: 4.9, Available: true},
		{ID: "c", Region: "Lagos", VehicleTypes: []string{"truck"}, ExperienceYears: 2, Rating: 3.2, TypicalRate: amount(40000), Available: true},
	}
	var first []Result
	for i := 0; i < 20; i++ {
		results := make([]Result, 0, len(pool))
		for _, c := range pool {
			results = append(results, e.Score(r, c))
		}
		ranked := Rank(results)
		if first == nil {
			first = ranked
			continue
		}
		for j := range ranked {
			if ranked[j].Candidate.ID != first[j].Candidate.ID || ranked[j].Total != first[j].Total {
				t.Fatalf("run %d differs at %d", i, j)
			}
		}
	}
}

func TestScore_VehicleSuperset(t *testing.T) {
	e := newEngine()
	r := lagosTruckRequest()
	r.VehicleType = "van"
	r.MinExperienceYears = 0

	res := e.Score(r, candidate.Candidate{ID: "t", Region: "Lagos", VehicleTypes: []string{"TRUCK"}, Available: true})
	if !res.Eligible || res.Breakdown.Vehicle != 0.5 {
		t.Fatalf("truck should cover van at 0.5, got %+v", res)
	}
	res = e.Score(r, candidate.Candidate{ID: "p", Region: "Lagos", VehicleTypes: []string{"pickup"}, Available: true})
	if res.Eligible {
		t.Fatal("pickup must not cover van")
	}
	if got := e.AcceptedVehicleTypes("Van"); len(got) != 3 || got[0] != "van" || got[1] != "trailer" || got[2] != "truck" {
		t.Fatalf("unexpected accepted types %v", got)
	}
}

func TestScore_Unavailable(t *testing.T) {
	res := newEngine().Score(lagosTruckRequest(), candidate.Candidate{ID: "x", Region: "Lagos", VehicleTypes: []string{"truck"}, ExperienceYears: 9})
	if res.Eligible || res.Reason != ReasonUnavailable {
		t.Fatalf("expected unavailable, got %+v", res)
	}
}

func TestScore_Location(t *testing.T) {
	e := newEngine()
	r := lagosTruckRequest()
	r.Pickup.SubRegion = "Ikeja"
	cases := []struct {
		region, sub string
		want        float64
	}{
		{"lagos", "ikeja", 1.0},
		{"Lagos", "Epe", 0.6},
		{"Lagos", "", 0.6},
		{"Ogun", "Ikeja", 0.2},
	}
	for _, tc := range cases {
		c := candidate.Candidate{ID: "x", Region: tc.region, SubRegion: tc.sub, VehicleTypes: []string{"truck"}, ExperienceYears: 2, Available: true}
		if got := e.Score(r, c).Breakdown.Location; !near(got, tc.want) {
			t.Errorf("%s/%s: expected %f, got %f", tc.region, tc.sub, tc.want, got)
		}
	}
}

func TestScore_Experience(t *testing.T) {
	e := newEngine()
	r := lagosTruckRequest()
	r.MinExperienceYears = 4
	c := candidate.Candidate{ID: "x", Region: "Lagos", VehicleTypes: []string{"truck"}, ExperienceYears: 4, Available: true}
	if got := e.Score(r, c).Breakdown.Experience; !near(got, 1) {
		t.Fatalf("meeting the requirement should score 1, got %f", got)
	}
	r.MinExperienceYears = 0
	c.ExperienceYears = 0
	if got := e.Score(r, c).Breakdown.Experience; !near(got, 0) {
		t.Fatalf("zero experience with no requirement scores 0, got %f", got)
	}
}

func TestScore_Budget(t *testing.T) {
	e := newEngine()
	cases := []struct {
		name     string
		lo, hi   *decimal.Decimal
		rate     *decimal.Decimal
		expected float64
	}{
		{"inside", amount(50000), amount(80000), amount(65000), 1},
		{"on upper bound", amount(50000), amount(80000), amount(80000), 1},
		{"10k above max", amount(50000), amount(80000), amount(90000), 0.5},
		{"far above max", amount(50000), amount(80000), amount(200000), 0},
		{"below min", amount(40000), amount(80000), amount(35000), 0.5},
		{"only max", nil, amount(80000), amount(10000), 1},
		{"no budget", nil, nil, amount(10000), 1},
		{"no rate", amount(50000), amount(80000), nil, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.budgetScore(tc.lo, tc.hi, tc.rate); !near(got, tc.expected) {
				t.Fatalf("expected %f, got %f", tc.expected, got)
			}
		})
	}
}

func TestRank_TieBreak(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, total, rating float64, active time.Time) Result {
		return Result{Eligible: true, Total: total, Candidate: candidate.Candidate{ID: types.ID(id), Rating: rating, LastActiveAt: active}}
	}
	ranked := Rank([]Result{
		mk("d", 0.80, 4.0, now),
		mk("c", 0.80+3e-7, 4.0, now),
		mk("b", 0.80, 4.0, now.Add(time.Minute)),
		mk("a", 0.80, 4.5, now),
		mk("e", 0.90, 1.0, now),
		{Eligible: false, Total: math.Inf(-1), Candidate: candidate.Candidate{ID: "z"}},
	})
	want := []types.ID{"e", "a", "b", "c", "d"}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d ranked, got %d", len(want), len(ranked))
	}
	for i, id := range want {
		if ranked[i].Candidate.ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].Candidate.ID)
		}
	}
}

func TestRank_IndependentOfInputOrder(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// Neighbouring totals sit within Epsilon of each other but the outer two
	// do not; ratings run against the totals.
	in := []Result{
		{Eligible: true, Total: 0.5, Candidate: candidate.Candidate{ID: "a", Rating: 5, LastActiveAt: now}},
		{Eligible: true, Total: 0.5 + 0.8e-6, Candidate: candidate.Candidate{ID: "b", Rating: 4, LastActiveAt: now}},
		{Eligible: true, Total: 0.5 + 1.6e-6, Candidate: candidate.Candidate{ID: "c", Rating: 3, LastActiveAt: now}},
	}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	var first []types.ID
	for _, p := range perms {
		ranked := Rank([]Result{in[p[0]], in[p[1]], in[p[2]]})
		got := make([]types.ID, len(ranked))
		for i, r := range ranked {
			got[i] = r.Candidate.ID
		}
		if first == nil {
			first = got
			continue
		}
		for i := range got {
			if got[i] != first[i] {
				t.Fatalf("order %v ranked %v, want %v", p, got, first)
			}
		}
	}
}
