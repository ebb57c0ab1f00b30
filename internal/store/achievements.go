package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tampadevs/communityevents/internal/svcerr"
)

// ListEnabledAchievementsByEventType returns all enabled achievements
// whose eventType equals the given domain event type. The achievement
// engine calls this once per batch and caches the result for that
// batch's lifetime (spec.md 5, 9).
func (s *Store) ListEnabledAchievementsByEventType(ctx context.Context, eventType string) ([]Achievement, error) {
	const q = `
SELECT id, key, name, description, icon, color, target_value, badge_slug, entitlement, points,
       event_type, conditions, progress_mode, gauge_field, hidden, enabled
FROM achievements
WHERE enabled = true AND event_type = $1`

	rows, err := s.pool.Query(ctx, q, eventType)
	if err != nil {
		return nil, fmt.Errorf("listing achievements for event type %q: %w", eventType, err)
	}
	defer rows.Close()

	var out []Achievement
	for rows.Next() {
		var a Achievement
		var conditionsRaw []byte
		if err := rows.Scan(&a.ID, &a.Key, &a.Name, &a.Description, &a.Icon, &a.Color, &a.TargetValue,
			&a.BadgeSlug, &a.Entitlement, &a.Points, &a.EventType, &conditionsRaw, &a.ProgressMode,
			&a.GaugeField, &a.Hidden, &a.Enabled); err != nil {
			return nil, err
		}
		if len(conditionsRaw) > 0 {
			if err := json.Unmarshal(conditionsRaw, &a.Conditions); err != nil {
				return nil, fmt.Errorf("decoding conditions for achievement %q: %w", a.Key, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EnsureAchievementProgress inserts a zero-valued (or gauge-seeded)
// progress row if one does not already exist for (userID, key). It is
// intentionally insert-or-do-nothing: the caller applies the actual
// increment/snapshot separately via IncrementCounterProgress or
// SetGaugeProgress (spec.md 4.8 steps b/c).
func (s *Store) EnsureAchievementProgress(ctx context.Context, userID, key string, target, initial float64) error {
	const q = `
INSERT INTO achievement_progress (user_id, achievement_key, current_value, target_value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, achievement_key) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, userID, key, initial, target)
	return err
}

// IncrementCounterProgress atomically adds 1 to currentValue, but only
// while completedAt is still unset (spec.md 4.8 step b, 9).
func (s *Store) IncrementCounterProgress(ctx context.Context, userID, key string) error {
	const q = `
UPDATE achievement_progress SET current_value = current_value + 1, updated_at = now()
WHERE user_id = $1 AND achievement_key = $2 AND completed_at IS NULL`
	_, err := s.pool.Exec(ctx, q, userID, key)
	return err
}

// SetGaugeProgress atomically overwrites currentValue with a fresh
// snapshot value, but only while completedAt is still unset (spec.md
// 4.8 step c).
func (s *Store) SetGaugeProgress(ctx context.Context, userID, key string, value float64) error {
	const q = `
UPDATE achievement_progress SET current_value = $3, updated_at = now()
WHERE user_id = $1 AND achievement_key = $2 AND completed_at IS NULL`
	_, err := s.pool.Exec(ctx, q, userID, key, value)
	return err
}

// GetAchievementProgress re-reads the row after an increment/gauge-set
// (spec.md 4.8 step d).
func (s *Store) GetAchievementProgress(ctx context.Context, userID, key string) (*AchievementProgress, error) {
	const q = `
SELECT id, user_id, achievement_key, current_value, target_value, completed_at
FROM achievement_progress WHERE user_id = $1 AND achievement_key = $2`
	var p AchievementProgress
	err := s.pool.QueryRow(ctx, q, userID, key).Scan(&p.ID, &p.UserID, &p.AchievementKey, &p.CurrentValue,
		&p.TargetValue, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: progress for user %s achievement %q", svcerr.ErrNotFound, userID, key)
	}
	return &p, err
}

// CompleteAchievementProgress sets completedAt, but only the first time
// — the WHERE clause makes this a no-op on redelivery, enforcing the
// "completedAt is set at most once" invariant (spec.md 4.8, 8).
func (s *Store) CompleteAchievementProgress(ctx context.Context, userID, key string) (justCompleted bool, err error) {
	const q = `
UPDATE achievement_progress SET completed_at = now(), updated_at = now()
WHERE user_id = $1 AND achievement_key = $2 AND completed_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, userID, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetOrCreateBadgeBySlug looks up a badge by slug, creating a minimal
// one if missing (spec.md 4.8 step d: "look up or auto-create the badge").
func (s *Store) GetOrCreateBadgeBySlug(ctx context.Context, slug string, points int) (uuid, error) {
	var id uuid
	err := s.pool.QueryRow(ctx, `SELECT id FROM badges WHERE slug = $1`, slug).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	const insertQ = `
INSERT INTO badges (slug, name, points) VALUES ($1, $1, $2)
ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
RETURNING id`
	if err := s.pool.QueryRow(ctx, insertQ, slug, points).Scan(&id); err != nil {
		return "", fmt.Errorf("auto-creating badge %q: %w", slug, err)
	}
	return id, nil
}

// AwardBadge inserts a user_badges row, unique on (userId, badgeId). It
// reports whether this call is the one that created the award — a
// redelivered event must not emit badge.issued twice (spec.md 4.8, 8).
func (s *Store) AwardBadge(ctx context.Context, userID, badgeID uuid) (newAward bool, err error) {
	const q = `
INSERT INTO user_badges (user_id, badge_id) VALUES ($1, $2)
ON CONFLICT (user_id, badge_id) DO NOTHING
RETURNING id`
	var id uuid
	err = s.pool.QueryRow(ctx, q, userID, badgeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("awarding badge %s to user %s: %w", badgeID, userID, err)
	}
	return true, nil
}

// UserBadgePoints sums the points of every badge a user holds, excluding
// group-scoped badges, per spec.md 4.8 step d's score recomputation.
func (s *Store) UserBadgePoints(ctx context.Context, userID uuid) (int, error) {
	const q = `
SELECT coalesce(sum(b.points), 0)
FROM user_badges ub
JOIN badges b ON b.id = ub.badge_id
WHERE ub.user_id = $1 AND b.group_id IS NULL`
	var total int
	err := s.pool.QueryRow(ctx, q, userID).Scan(&total)
	return total, err
}

// GrantEntitlement inserts a user_entitlements row, unique on
// (userId, entitlement), idempotent under redelivery.
func (s *Store) GrantEntitlement(ctx context.Context, userID, entitlement string) error {
	const q = `
INSERT INTO user_entitlements (user_id, entitlement) VALUES ($1, $2)
ON CONFLICT (user_id, entitlement) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, userID, entitlement)
	return err
}

// OnboardingStep mirrors a registered onboarding step definition.
type OnboardingStep struct {
	StepKey   string
	EventKey  string
	Name      string
	SortOrder int
}

// ListOnboardingStepsByEventKey finds onboarding steps that auto-complete
// on a given domain event type (spec.md 4.8 step 1).
func (s *Store) ListOnboardingStepsByEventKey(ctx context.Context, eventKey string) ([]OnboardingStep, error) {
	const q = `SELECT step_key, event_key, name, sort_order FROM onboarding_steps WHERE event_key = $1`
	rows, err := s.pool.Query(ctx, q, eventKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OnboardingStep
	for rows.Next() {
		var st OnboardingStep
		if err := rows.Scan(&st.StepKey, &st.EventKey, &st.Name, &st.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CompleteOnboardingStep inserts-or-updates a per-user step record with
// completedAt = now, reporting whether this call is the one that first
// completed it (spec.md 4.8 step 1).
func (s *Store) CompleteOnboardingStep(ctx context.Context, userID, stepKey string) (justCompleted bool, err error) {
	const q = `
INSERT INTO user_onboarding_progress (user_id, step_key, completed_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id, step_key) DO UPDATE SET completed_at = now()
WHERE user_onboarding_progress.completed_at IS NULL
RETURNING id`
	var id uuid
	err = s.pool.QueryRow(ctx, q, userID, stepKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// AllOnboardingStepsComplete reports whether a user has completed every
// registered onboarding step (spec.md 4.8 step 1).
func (s *Store) AllOnboardingStepsComplete(ctx context.Context, userID uuid) (bool, error) {
	const q = `
SELECT (SELECT count(*) FROM onboarding_steps) = (
  SELECT count(*) FROM user_onboarding_progress WHERE user_id = $1 AND completed_at IS NOT NULL
)`
	var allDone bool
	err := s.pool.QueryRow(ctx, q, userID).Scan(&allDone)
	return allDone, err
}
