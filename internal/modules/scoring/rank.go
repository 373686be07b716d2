// README: Ranking of scored candidates: eligible only, deterministic order.
package scoring

import (
	"cmp"
	"math"
	"slices"
)

// Epsilon is the grid totals are rounded to before comparison; totals on the
// same grid point are tied.
const Epsilon = 1e-6

// Rank drops ineligible results and orders the rest by total descending,
// breaking ties by rating, then most recent activity, then candidate ID.
func Rank(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Eligible {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, compare)
	return out
}

// bucket keeps ties transitive so the order does not depend on input order.
func bucket(total float64) float64 {
	return math.Round(total / Epsilon)
}

func compare(a, b Result) int {
	if ka, kb := bucket(a.Total), bucket(b.Total); ka != kb {
		return cmp.Compare(kb, ka)
	}
	if a.Candidate.Rating != b.Candidate.Rating {
		return cmp.Compare(b.Candidate.Rating, a.Candidate.Rating)
	}
	if !a.Candidate.LastActiveAt.Equal(b.Candidate.LastActiveAt) {
		return b.Candidate.LastActiveAt.Compare(a.Candidate.LastActiveAt)
	}
	return cmp.Compare(a.Candidate.ID, b.Candidate.ID)
}
