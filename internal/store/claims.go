package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tampadevs/communityevents/internal/svcerr"
)

// GetBadgeClaimLinkByCode fetches a claim link by its secret code.
func (s *Store) GetBadgeClaimLinkByCode(ctx context.Context, code string) (*BadgeClaimLink, error) {
	const q = `
SELECT id, code, badge_id, max_uses, current_uses, expires_at, achievement_key,
       custom_event_type, custom_event_payload
FROM badge_claim_links WHERE code = $1`
	var l BadgeClaimLink
	var payloadRaw []byte
	err := s.pool.QueryRow(ctx, q, code).Scan(&l.ID, &l.Code, &l.BadgeID, &l.MaxUses, &l.CurrentUses, &l.ExpiresAt,
		&l.AchievementKey, &l.CustomEventType, &payloadRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim code %q", svcerr.ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &l.CustomEventPayload); err != nil {
			return nil, fmt.Errorf("decoding custom event payload: %w", err)
		}
	}
	return &l, nil
}

// HasBadge reports whether a user already holds a given badge.
func (s *Store) HasBadge(ctx context.Context, userID, badgeID uuid) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT exists(SELECT 1 FROM user_badges WHERE user_id = $1 AND badge_id = $2)`, userID, badgeID).Scan(&exists)
	return exists, err
}

// ClaimBadgeAtomically performs the claim's core race-safe step: it
// increments currentUses only while the link is still under its
// maxUses bound (or unlimited), in the same statement that checks the
// bound, so a burst of concurrent claims never exceeds maxUses (spec.md
// 4.11, 8). It reports whether this call won the race.
func (s *Store) ClaimBadgeAtomically(ctx context.Context, linkID uuid) (claimed bool, err error) {
	const q = `
UPDATE badge_claim_links SET current_uses = current_uses + 1
WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`
	tag, err := s.pool.Exec(ctx, q, linkID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertUserBadgeFromClaim inserts the award row for a successful claim.
// Unique on (userId, badgeId); callers must have already verified via
// HasBadge to surface a clean conflict error before attempting the
// atomic use-increment.
func (s *Store) InsertUserBadgeFromClaim(ctx context.Context, userID, badgeID uuid) error {
	const q = `INSERT INTO user_badges (user_id, badge_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := s.pool.Exec(ctx, q, userID, badgeID)
	return err
}

// ForceCompleteAchievement upserts an AchievementProgress row already at
// target and completed, used when a claim link specifies an achievement
// to auto-complete (spec.md 4.11). The value written is the
// achievement's own targetValue; target is used only when the
// achievements table has no row for key.
func (s *Store) ForceCompleteAchievement(ctx context.Context, userID, key string, target float64) error {
	const q = `
INSERT INTO achievement_progress (user_id, achievement_key, current_value, target_value, completed_at)
SELECT $1, $2, t.v, t.v, now()
FROM (SELECT coalesce((SELECT target_value FROM achievements WHERE key = $2), $3) AS v) t
ON CONFLICT (user_id, achievement_key) DO UPDATE SET
  current_value = GREATEST(achievement_progress.current_value, EXCLUDED.current_value),
  completed_at = coalesce(achievement_progress.completed_at, now())`
	_, err := s.pool.Exec(ctx, q, userID, key, target)
	return err
}

// GetBadge fetches a badge by id.
func (s *Store) GetBadge(ctx context.Context, id uuid) (*Badge, error) {
	const q = `SELECT id, slug, name, description, icon, color, points, sort_order, hidden, group_id FROM badges WHERE id = $1`
	var b Badge
	err := s.pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.Slug, &b.Name, &b.Description, &b.Icon, &b.Color, &b.Points,
		&b.SortOrder, &b.Hidden, &b.GroupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: badge %s", svcerr.ErrNotFound, id)
	}
	return &b, err
}

// CreateBadgeClaimLink inserts a new claim link for an existing badge,
// generating its code with gen_random_uuid() truncation so callers don't
// need a dependency just to mint a claim code. Backs the admin bulk badge
// import tool.
func (s *Store) CreateBadgeClaimLink(ctx context.Context, badgeID uuid, maxUses *int, achievementKey *string) (string, error) {
	const q = `
INSERT INTO badge_claim_links (code, badge_id, max_uses, achievement_key)
VALUES (replace(gen_random_uuid()::text, '-', ''), $1, $2, $3)
RETURNING code`
	var code string
	err := s.pool.QueryRow(ctx, q, badgeID, maxUses, achievementKey).Scan(&code)
	return code, err
}
