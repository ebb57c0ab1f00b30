package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// AddFavorite inserts a (user, group) favorite row. Idempotent: reports
// alreadyExisted=true on a unique-constraint conflict rather than
// erroring (spec.md 4.11).
func (s *Store) AddFavorite(ctx context.Context, userID, groupID uuid) (alreadyExisted bool, err error) {
	const q = `INSERT INTO favorites (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`
	var id uuid
	err = s.pool.QueryRow(ctx, q, userID, groupID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	return false, err
}

// RemoveFavorite deletes a (user, group) favorite row, reporting
// whether a row was actually deleted (spec.md 4.11's documented choice:
// see the favorites service for how this is used).
func (s *Store) RemoveFavorite(ctx context.Context, userID, groupID uuid) (deleted bool, err error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM favorites WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountFavorites returns the number of users favoriting a group, used by
// the notification relayer's broadcast recomputation (spec.md 4.10).
func (s *Store) CountFavorites(ctx context.Context, groupID uuid) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM favorites WHERE group_id = $1`, groupID).Scan(&n)
	return n, err
}
