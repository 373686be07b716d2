package candidate

import (
	"context"
	"slices"
	"sync"

	"freightmatch/internal/types"
)

// StaticProvider serves a fixed in-memory pool. Used for local mode and tests.
type StaticProvider struct {
	mu   sync.RWMutex
	pool []Candidate
}

func NewStaticProvider(pool ...Candidate) *StaticProvider {
	return &StaticProvider{pool: slices.Clone(pool)}
}

func (p *StaticProvider) Upsert(c Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.pool {
		if p.pool[i].ID == c.ID {
			p.pool[i] = c
			return
		}
	}
	p.pool = append(p.pool, c)
}

func (p *StaticProvider) FindEligible(ctx context.Context, q Query) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Candidate, 0, len(p.pool))
	for _, c := range p.pool {
		if !c.Available || c.ExperienceYears < q.MinExperience {
			continue
		}
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, c.ID) {
			continue
		}
		if !slices.ContainsFunc(q.AcceptTypes, c.HasVehicle) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		ar, br := types.SameRegion(a.Region, q.Region), types.SameRegion(b.Region, q.Region)
		switch {
		case ar && !br:
			return -1
		case br && !ar:
			return 1
		}
		return 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
