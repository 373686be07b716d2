// README: Match store backed by PostgreSQL (matches + match_events); joins the ambient unit of work.
package matching

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

const (
	pgUniqueViolation   = "23505"
	acceptedUniqueIndex = "uq_matches_accepted"
)

const matchColumns = `
	id, request_id, candidate_id, score, breakdown, rank, status,
	proposed_rate::text, agreed_rate::text, negotiation_message, notes, rejection_reason,
	version, created_at, updated_at, negotiated_at, accepted_at, rejected_at, withdrawn_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Match, error) {
	row := infra.Conn(ctx, s.db).QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, string(id))
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	return m, err
}

func (s *PGStore) ListByRequest(ctx context.Context, requestID types.ID) ([]Match, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE request_id = $1
		ORDER BY created_at, rank, id`, string(requestID))
	if err != nil {
		return nil, fmt.Errorf("match store: list: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

func (s *PGStore) UpsertProposal(ctx context.Context, m *Match) (types.ID, bool, error) {
	var id string
	var inserted bool
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		INSERT INTO matches (
			id, request_id, candidate_id, score, breakdown, rank, status,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, 0, $8, $8)
		ON CONFLICT (request_id, candidate_id) WHERE status IN ('proposed', 'negotiating')
		DO UPDATE SET score = EXCLUDED.score,
		              breakdown = EXCLUDED.breakdown,
		              rank = EXCLUDED.rank,
		              updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0)`,
		string(m.ID), string(m.RequestID), string(m.CandidateID),
		m.Score, m.Breakdown, m.Rank, string(m.Status), m.CreatedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("match store: upsert: %w", err)
	}
	return types.ID(id), inserted, nil
}

func (s *PGStore) Update(ctx context.Context, m *Match, version int) (bool, error) {
	tag, err := infra.Conn(ctx, s.db).Exec(ctx, `
		UPDATE matches
		SET status = $1,
		    proposed_rate = $2::numeric,
		    agreed_rate = $3::numeric,
		    negotiation_message = $4,
		    notes = $5,
		    rejection_reason = $6,
		    negotiated_at = $7,
		    accepted_at = $8,
		    rejected_at = $9,
		    withdrawn_at = $10,
		    updated_at = $11,
		    version = version + 1
		WHERE id = $12 AND version = $13 AND status IN ('proposed', 'negotiating')`,
		string(m.Status),
		types.AmountString(m.ProposedRate),
		types.AmountString(m.AgreedRate),
		m.NegotiationMessage,
		m.Notes,
		m.RejectionReason,
		m.NegotiatedAt, m.AcceptedAt, m.RejectedAt, m.WithdrawnAt,
		m.UpdatedAt,
		string(m.ID), version,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == acceptedUniqueIndex {
		return false, ErrDuplicateAccept
	}
	if err != nil {
		return false, fmt.Errorf("match store: update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) RejectOpenSiblings(ctx context.Context, requestID, exceptID types.ID, reason string, at time.Time) ([]Match, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		UPDATE matches
		SET status = 'rejected', rejection_reason = $1, rejected_at = $2, updated_at = $2, version = version + 1
		WHERE request_id = $3 AND id <> $4 AND status IN ('proposed', 'negotiating')
		RETURNING `+matchColumns,
		reason, at, string(requestID), string(exceptID),
	)
	if err != nil {
		return nil, fmt.Errorf("match store: reject siblings: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	err := infra.Conn(ctx, s.db).QueryRow(ctx, `
		INSERT INTO match_events (
			match_id, request_id, from_status, to_status, actor, rate, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		RETURNING id`,
		string(e.MatchID), string(e.RequestID), string(e.From), string(e.To),
		e.Actor, types.AmountString(e.Rate), e.Message, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("match store: append event: %w", err)
	}
	return nil
}

func (s *PGStore) ListEvents(ctx context.Context, matchID types.ID) ([]Event, error) {
	rows, err := infra.Conn(ctx, s.db).Query(ctx, `
		SELECT id, match_id, request_id, from_status, to_status, actor, rate::text, message, created_at
		FROM match_events
		WHERE match_id = $1
		ORDER BY id`, string(matchID))
	if err != nil {
		return nil, fmt.Errorf("match store: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var rate *string
		if err := rows.Scan(&e.ID, &e.MatchID, &e.RequestID, &e.From, &e.To, &e.Actor, &rate, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("match store: scan event: %w", err)
		}
		if e.Rate, err = types.ParseAmount(rate); err != nil {
			return nil, fmt.Errorf("match store: event rate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func collectMatches(rows pgx.Rows) ([]Match, error) {
	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("match store: scan: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMatch(row pgx.Row) (*Match, error) {
	var m Match
	var proposed, agreed *string
	err := row.Scan(
		&m.ID, &m.RequestID, &m.CandidateID, &m.Score, &m.Breakdown, &m.Rank, &m.Status,
		&proposed, &agreed, &m.NegotiationMessage, &m.Notes, &m.RejectionReason,
		&m.Version, &m.CreatedAt, &m.UpdatedAt, &m.NegotiatedAt, &m.AcceptedAt, &m.RejectedAt, &m.WithdrawnAt,
	)
	if err != nil {
		return nil, err
	}
	if m.ProposedRate, err = types.ParseAmount(proposed); err != nil {
		return nil, err
	}
	if m.AgreedRate, err = types.ParseAmount(agreed); err != nil {
		return nil, err
	}
	return &m, nil
}
