package candidate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"freightmatch/internal/types"
)

// PGProvider reads the drivers table owned by the driver registry.
type PGProvider struct {
	db *pgxpool.Pool
}

func NewPGProvider(db *pgxpool.Pool) *PGProvider {
	return &PGProvider{db: db}
}

func (p *PGProvider) FindEligible(ctx context.Context, q Query) ([]Candidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, name, region, sub_region, vehicle_types, experience_years,
		       rating, typical_rate::text, available, last_active_at
		FROM drivers
		WHERE available
		  AND experience_years >= $1
		  AND lower_text_array(vehicle_types) && $2::text[]
		  AND (cardinality($5::text[]) = 0 OR id = ANY($5::text[]))
		ORDER BY (lower(region) = lower($3)) DESC, rating DESC, last_active_at DESC, id
		LIMIT $4`,
		q.MinExperience, q.AcceptTypes, q.Region, limit, idStrings(q.IDs),
	)
	if err != nil {
		return nil, fmt.Errorf("candidate provider: query: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var rate *string
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Region, &c.SubRegion, &c.VehicleTypes, &c.ExperienceYears,
			&c.Rating, &rate, &c.Available, &c.LastActiveAt,
		); err != nil {
			return nil, fmt.Errorf("candidate provider: scan: %w", err)
		}
		if c.TypicalRate, err = types.ParseAmount(rate); err != nil {
			return nil, fmt.Errorf("candidate provider: typical_rate of %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
