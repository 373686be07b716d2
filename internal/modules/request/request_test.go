// README: Request service tests using the in-memory store and a recording dispatcher.
package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightmatch/internal/infra"
	"freightmatch/internal/types"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	calls   []string
	failErr error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id types.ID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, string(id)+":"+reason)
	return d.failErr
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func exact(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func validCreate() CreateCommand {
	return CreateCommand{
		CompanyID:          "company-1",
		Pickup:             types.Location{Region: "Lagos", SubRegion: "Ikeja"},
		Dropoff:            types.Location{Region: "Oyo"},
		VehicleType:        " Truck ",
		BudgetMin:          amount(50000),
		BudgetMax:          amount(80000),
		MinExperienceYears: 2,
	}
}

func TestCreate_PersistsPendingAndDispatches(t *testing.T) {
	store := NewMemoryStore()
	disp := &recordingDispatcher{}
	svc := NewService(store, disp, zap.NewNop())

	r, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != StatusPending || r.MatchingState != MatchingQueued {
		t.Fatalf("unexpected state %s/%s", r.Status, r.MatchingState)
	}
	if r.VehicleType != "truck" {
		t.Fatalf("vehicle type should be normalized, got %q", r.VehicleType)
	}
	if r.Urgency != UrgencyMedium {
		t.Fatalf("expected default urgency, got %s", r.Urgency)
	}
	if len(disp.calls) != 1 || disp.calls[0] != string(r.ID)+":"+ReasonCreated {
		t.Fatalf("unexpected dispatch calls: %v", disp.calls)
	}
	if _, err := svc.Get(context.Background(), r.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	pickup := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	before := pickup.Add(-time.Hour)

	cases := []struct {
		name   string
		mutate func(*CreateCommand)
		want   error
	}{
		{"budget inverted", func(c *CreateCommand) { c.BudgetMin, c.BudgetMax = amount(90000), amount(80000) }, ErrInvalidBudget},
		{"negative budget", func(c *CreateCommand) { c.BudgetMin = amount(-1) }, ErrInvalidBudget},
		{"budget sub-cent", func(c *CreateCommand) { c.BudgetMax = exact("80000.005") }, types.ErrAmountPrecision},
		{"budget overflow", func(c *CreateCommand) { c.BudgetMax = exact("1000000000000") }, types.ErrAmountTooLarge},
		{"cargo value sub-cent", func(c *CreateCommand) { c.CargoValue = exact("10.123") }, types.ErrAmountPrecision},
		{"cargo value overflow", func(c *CreateCommand) { c.CargoValue = exact("5e12") }, ErrBadRequest},
		{"deadline before pickup", func(c *CreateCommand) { c.PickupDate, c.DeliveryDeadline = &pickup, &before }, ErrInvalidDeadline},
		{"deadline equal pickup", func(c *CreateCommand) { c.PickupDate, c.DeliveryDeadline = &pickup, &pickup }, ErrInvalidDeadline},
		{"missing region", func(c *CreateCommand) { c.Pickup.Region = "  " }, ErrBadRequest},
		{"missing vehicle", func(c *CreateCommand) { c.VehicleType = "" }, ErrBadRequest},
		{"missing company", func(c *CreateCommand) { c.CompanyID = "" }, ErrBadRequest},
		{"negative experience", func(c *CreateCommand) { c.MinExperienceYears = -1 }, ErrBadRequest},
		{"unknown urgency", func(c *CreateCommand) { c.Urgency = "asap" }, ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			disp := &recordingDispatcher{}
			svc := NewService(NewMemoryStore(), disp, zap.NewNop())
			cmd := validCreate()
			tc.mutate(&cmd)
			if _, err := svc.Create(context.Background(), cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(disp.calls) != 0 {
				t.Fatalf("invalid request must not be dispatched")
			}
		})
	}
}

func TestCreate_OpenBudgetBoundsAccepted(t *testing.T) {
	svc := NewService(NewMemoryStore(), &recordingDispatcher{}, zap.NewNop())
	cmd := validCreate()
	cmd.BudgetMin = nil
	if _, err := svc.Create(context.Background(), cmd); err != nil {
		t.Fatalf("create without budget_min: %v", err)
	}
}

func TestCreate_DispatchFailureFlagsDelayed(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &recordingDispatcher{failErr: errors.New("broker down")}, zap.NewNop())

	r, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("creation must not fail on dispatch error: %v", err)
	}
	stored, _ := store.Get(context.Background(), r.ID)
	if stored.MatchingState != MatchingDelayed || r.MatchingState != MatchingDelayed {
		t.Fatalf("expected delayed, got %s", stored.MatchingState)
	}
}

func TestUpdateConstraints_RedispatchesAndBumpsVersion(t *testing.T) {
	store := NewMemoryStore()
	disp := &recordingDispatcher{}
	svc := NewService(store, disp, zap.NewNop())
	ctx := context.Background()

	r, _ := svc.Create(ctx, validCreate())
	c := r.Constraints()
	c.VehicleType = "VAN"
	c.MinExperienceYears = 0

	updated, err := svc.UpdateConstraints(ctx, UpdateConstraintsCommand{RequestID: r.ID, Constraints: c})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.VehicleType != "van" || updated.Version != r.Version+1 {
		t.Fatalf("unexpected update result: type=%s version=%d", updated.VehicleType, updated.Version)
	}
	if len(disp.calls) != 2 || disp.calls[1] != string(r.ID)+":"+ReasonConstraintsChanged {
		t.Fatalf("expected re-dispatch, got %v", disp.calls)
	}
}

func TestUpdateConstraints_RejectsNonPending(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &recordingDispatcher{}, zap.NewNop())
	ctx := context.Background()

	r, _ := svc.Create(ctx, validCreate())
	if ok, _ := store.Activate(ctx, r.ID, time.Now()); !ok {
		t.Fatal("activate failed")
	}
	_, err := svc.UpdateConstraints(ctx, UpdateConstraintsCommand{RequestID: r.ID, Constraints: r.Constraints()})
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestMemoryStore_ActivateOnlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := Request{ID: types.NewID(), Status: StatusPending}
	store.Put(r)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := store.Activate(ctx, r.ID, time.Now())
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one activation, got %d", wins)
	}
}

func TestMemoryStore_RollbackKeepsOtherRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := Request{ID: types.NewID(), Status: StatusPending}
	store.Put(r)
	other := Request{ID: types.NewID(), Status: StatusPending}

	uow := infra.NewMemoryUnitOfWork()
	err := uow.WithinTx(ctx, func(ctx context.Context) error {
		if ok, err := store.Activate(ctx, r.ID, time.Now()); !ok || err != nil {
			t.Fatalf("activate: %v %v", ok, err)
		}
		// Created outside the unit while it is still open.
		if err := store.Create(context.Background(), &other); err != nil {
			t.Fatalf("create: %v", err)
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort")
	}

	got, _ := store.Get(ctx, r.ID)
	if got.Status != StatusPending {
		t.Fatalf("expected rollback to pending, got %s", got.Status)
	}
	if _, err := store.Get(ctx, other.ID); err != nil {
		t.Fatalf("request created outside the unit was lost: %v", err)
	}
}
