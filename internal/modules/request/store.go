// README: Request persistence port.
package request

import (
	"context"
	"time"

	"freightmatch/internal/types"
)

type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	// GetForUpdate row-locks the request for the rest of the surrounding unit of work.
	GetForUpdate(ctx context.Context, id types.ID) (*Request, error)
	// UpdateConstraints applies c while the request is pending at version.
	UpdateConstraints(ctx context.Context, id types.ID, version int, c Constraints, at time.Time) (bool, error)
	// Activate flips pending to active. It reports false when the request was not pending.
	Activate(ctx context.Context, id types.ID, at time.Time) (bool, error)
	SetMatchingState(ctx context.Context, id types.ID, state MatchingState, at time.Time) error
}
