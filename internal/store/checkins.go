package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tampadevs/communityevents/internal/svcerr"
)

// GetCheckInCode fetches a check-in code by (event, code).
func (s *Store) GetCheckInCode(ctx context.Context, eventID uuid, code string) (*uuid, *int, int, error) {
	const q = `SELECT id, max_uses, current_uses FROM check_in_codes WHERE event_id = $1 AND code = $2`
	var id uuid
	var maxUses *int
	var currentUses int
	err := s.pool.QueryRow(ctx, q, eventID, code).Scan(&id, &maxUses, &currentUses)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, 0, fmt.Errorf("%w: check-in code", svcerr.ErrNotFound)
	}
	return &id, maxUses, currentUses, err
}

// ClaimCheckInUse atomically increments a check-in code's use counter,
// bounded by maxUses the same way claim links are (spec.md 3).
func (s *Store) ClaimCheckInUse(ctx context.Context, codeID uuid) (claimed bool, err error) {
	const q = `
UPDATE check_in_codes SET current_uses = current_uses + 1
WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`
	tag, err := s.pool.Exec(ctx, q, codeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertCheckIn records a (event, user) check-in, unique per pair.
func (s *Store) InsertCheckIn(ctx context.Context, eventID, userID uuid) (uuid, error) {
	const q = `
INSERT INTO check_ins (event_id, user_id) VALUES ($1, $2)
RETURNING id`
	var id uuid
	err := s.pool.QueryRow(ctx, q, eventID, userID).Scan(&id)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("%w: user already checked in", svcerr.ErrConflict)
	}
	return id, err
}
