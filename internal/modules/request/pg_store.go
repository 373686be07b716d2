// README: Request store backed by PostgreSQL; joins the ambient unit of work via infra.Conn.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightmatch/internal/infra"
	"freightmatch/internal/types"
)

// ErrLocked is returned when the row lock is not granted within the lock timeout.
var ErrLocked = errors.New("request row is locked")

const pgLockNotAvailable = "55P03"

const selectColumns = `
	id, company_id,
	pickup_region, pickup_sub_region, pickup_address,
	dropoff_region, dropoff_sub_region, dropoff_address,
	vehicle_type, cargo_type, cargo_description, weight_kg, cargo_value::text,
	pickup_date, delivery_deadline, budget_min::text, budget_max::text,
	min_experience_years, urgency, status, matching_state, version,
	created_at, updated_at, activated_at`

type PGStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPGStore(db *pgxpool.Pool, lockTimeout time.Duration) *PGStore {
	return &PGStore{db: db, lockTimeout: lockTimeout}
}

func (s *PGStore) Create(ctx context.Context, r *Request) error {
	_, err := infra.Conn(ctx, s.db).Exec(ctx, `
		INSERT INTO requests (
			id, company_id,
			pickup_region, pickup_sub_region, pickup_address,
			dropoff_region, dropoff_sub_region, dropoff_address,
			vehicle_type, cargo_type, cargo_description, weight_kg, cargo_value,
			pickup_date, delivery_deadline, budget_min, budget_max,
			min_experience_years, urgency, status, matching_state, version,
			created_at, updated_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13::numeric,
			$14, $15, $16::numeric, $17::numeric,
			$18, $19, $20, $21, $22,
			$23, $23
		)`,
		string(r.ID), string(r.CompanyID),
		r.Pickup.Region, r.Pickup.SubRegion, r.Pickup.Address,
		r.Dropoff.Region, r.Dropoff.SubRegion, r.Dropoff.Address,
		r.VehicleType, r.CargoType, r.CargoDescription, r.WeightKg, types.AmountString(r.CargoValue),
		r.PickupDate, r.DeliveryDeadline, types.AmountString(r.BudgetMin), types.AmountString(r.BudgetMax),
		r.MinExperienceYears, string(r.Urgency), string(r.Status), string(r.MatchingState), r.Version,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("request store: insert: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `SELECT `+selectColumns+` FROM requests WHERE id = $1`, string(id))
	return scanRequest(row)
}

func (s *PGStore) GetForUpdate(ctx context.Context, id types.ID) (*Request, error) {
	tx, ok := infra.TxFromContext(ctx)
	if !ok {
		return nil, errors.New("request store: GetForUpdate called outside a unit of work")
	}
	// set_config with is_local=true scopes the timeout to this transaction.
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("request store: set lock_timeout: %w", err)
	}
	row := tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM requests WHERE id = $1 FOR UPDATE`, string(id))
	r, err := scanRequest(row)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return nil, ErrLocked
	}
	return r, err
}

func (s *PGStore) UpdateConstraints(ctx context.Context, id types.ID, version int, c Constraints, at time.Time) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE requests
		SET pickup_region = $1, pickup_sub_region = $2, pickup_address = $3,
		    dropoff_region = $4, dropoff_sub_region = $5, dropoff_address = $6,
		    vehicle_type = $7, pickup_date = $8, delivery_deadline = $9,
		    budget_min = $10::numeric, budget_max = $11::numeric,
		    min_experience_years = $12, urgency = $13,
		    matching_state = 'queued',
		    version = version + 1, updated_at = $14
		WHERE id = $15 AND status = 'pending' AND version = $16`,
		c.Pickup.Region, c.Pickup.SubRegion, c.Pickup.Address,
		c.Dropoff.Region, c.Dropoff.SubRegion, c.Dropoff.Address,
		c.VehicleType, c.PickupDate, c.DeliveryDeadline,
		types.AmountString(c.BudgetMin), types.AmountString(c.BudgetMax),
		c.MinExperienceYears, string(c.Urgency),
		at, string(id), version,
	)
	if err != nil {
		return false, fmt.Errorf("request store: update constraints: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Activate(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE requests
		SET status = 'active', activated_at = $1, updated_at = $1, version = version + 1
		WHERE id = $2 AND status = 'pending'`,
		at, string(id),
	)
	if err != nil {
		return false, fmt.Errorf("request store: activate: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetMatchingState(ctx context.Context, id types.ID, state MatchingState, at time.Time) error {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE requests SET matching_state = $1, updated_at = $2 WHERE id = $3`,
		string(state), at, string(id),
	)
	if err != nil {
		return fmt.Errorf("request store: set matching state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var cargoValue, budgetMin, budgetMax *string
	err := row.Scan(
		&r.ID, &r.CompanyID,
		&r.Pickup.Region, &r.Pickup.SubRegion, &r.Pickup.Address,
		&r.Dropoff.Region, &r.Dropoff.SubRegion, &r.Dropoff.Address,
		&r.VehicleType, &r.CargoType, &r.CargoDescription, &r.WeightKg, &cargoValue,
		&r.PickupDate, &r.DeliveryDeadline, &budgetMin, &budgetMax,
		&r.MinExperienceYears, &r.Urgency, &r.Status, &r.MatchingState, &r.Version,
		&r.CreatedAt, &r.UpdatedAt, &r.ActivatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.CargoValue, err = types.ParseAmount(cargoValue); err != nil {
		return nil, fmt.Errorf("request store: cargo_value: %w", err)
	}
	if r.BudgetMin, err = types.ParseAmount(budgetMin); err != nil {
		return nil, fmt.Errorf("request store: budget_min: %w", err)
	}
	if r.BudgetMax, err = types.ParseAmount(budgetMax); err != nil {
		return nil, fmt.Errorf("request store: budget_max: %w", err)
	}
	return &r, nil
}
