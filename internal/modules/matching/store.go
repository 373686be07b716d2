// README: Match persistence port.
package matching

import (
	"context"
	"errors"
	"time"

	"freightmatch/internal/types"
)

// ErrDuplicateAccept is returned by Update when the request already has an
// accepted match.
var ErrDuplicateAccept = errors.New("request already has an accepted match")

type Store interface {
	Get(ctx context.Context, id types.ID) (*Match, error)
	ListByRequest(ctx context.Context, requestID types.ID) ([]Match, error)
	// UpsertProposal inserts m unless an open match already pairs its request
	// and candidate, in which case only score, breakdown and rank are refreshed.
	// It returns the persisted match ID and whether a row was inserted.
	UpsertProposal(ctx context.Context, m *Match) (types.ID, bool, error)
	// Update writes m's mutable fields while the stored row is open at version.
	// Accepting a second match of one request fails with ErrDuplicateAccept.
	Update(ctx context.Context, m *Match, version int) (bool, error)
	// RejectOpenSiblings rejects every open match of requestID except exceptID
	// and returns the rejected rows.
	RejectOpenSiblings(ctx context.Context, requestID, exceptID types.ID, reason string, at time.Time) ([]Match, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, matchID types.ID) ([]Event, error)
}
