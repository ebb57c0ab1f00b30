package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tampadevs/communityevents/internal/svcerr"
)

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid) (*User, error) {
	const q = `SELECT id, username, role, public, display_name, avatar_url FROM users WHERE id = $1`
	var u User
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.Role, &u.Public, &u.DisplayName, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", svcerr.ErrNotFound, id)
	}
	return &u, err
}

// ListUsers returns every public (or, if includePrivate, every) user
// ordered by username. Backs the admin-scoped user listing (spec.md
// 4.12's admin_list_users tool).
func (s *Store) ListUsers(ctx context.Context, includePrivate bool) ([]User, error) {
	q := `SELECT id, username, role, public, display_name, avatar_url FROM users`
	if !includePrivate {
		q += ` WHERE public = true`
	}
	q += ` ORDER BY username`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.Public, &u.DisplayName, &u.AvatarURL); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListUserBadges returns every badge a user holds, most recently awarded first.
func (s *Store) ListUserBadges(ctx context.Context, userID uuid) ([]UserBadge, error) {
	const q = `
SELECT id, user_id, badge_id, awarded_at, awarded_by
FROM user_badges WHERE user_id = $1 ORDER BY awarded_at DESC`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserBadge
	for rows.Next() {
		var ub UserBadge
		if err := rows.Scan(&ub.ID, &ub.UserID, &ub.BadgeID, &ub.AwardedAt, &ub.AwardedBy); err != nil {
			return nil, err
		}
		out = append(out, ub)
	}
	return out, rows.Err()
}

// ListUserAchievementProgress returns every achievement progress row for a user.
func (s *Store) ListUserAchievementProgress(ctx context.Context, userID uuid) ([]AchievementProgress, error) {
	const q = `
SELECT id, user_id, achievement_key, current_value, target_value, completed_at
FROM achievement_progress WHERE user_id = $1`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AchievementProgress
	for rows.Next() {
		var p AchievementProgress
		if err := rows.Scan(&p.ID, &p.UserID, &p.AchievementKey, &p.CurrentValue, &p.TargetValue, &p.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
